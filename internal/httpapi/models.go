package httpapi

import (
	"net/http"

	"github.com/nextlevelbuilder/mobius/pkg/oai"
)

// handleModels lists the models this gateway serves. The public model
// id is the only advertised entry; provider models stay behind it even
// when passthrough is enabled.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, oai.ModelList{
		Object: "list",
		Data: []oai.Model{
			{
				ID:      s.cfg.API.PublicModelID,
				Object:  "model",
				Created: s.started.Unix(),
				OwnedBy: "mobius",
			},
		},
	})
}

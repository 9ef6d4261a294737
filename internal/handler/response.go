package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/cmsauto/autologin-server-go/internal/errors"
	"github.com/cmsauto/autologin-server-go/internal/httputil"
	"github.com/cmsauto/autologin-server-go/internal/util"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func accountIDParam(r *http.Request) (int64, error) {
	id, err := util.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		return 0, apperrors.InvalidInput("account id", "must be a positive integer")
	}
	return id, nil
}

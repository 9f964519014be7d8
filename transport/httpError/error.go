package httpError

import (
	"encoding/json"
	"net/http"

	"github.com/autom8ter/realtime/errors"
)

// Error writes the error as a json response with the status of its code. Errors without an http code are
// answered with 500.
func Error(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var e = errors.Extract(err)
	if e == nil {
		e = &errors.Error{}
	}
	if cde := e.Code; cde >= 400 && cde < 600 {
		status = int(cde)
	} else {
		e = &errors.Error{Code: errors.Internal, Reason: e.Reason, Messages: e.Messages}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// remove the internal error
	json.NewEncoder(w).Encode(e.RemoveError())
}

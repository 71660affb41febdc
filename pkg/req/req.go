package req

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/Dhoini/channel-gatekeeper/pkg/logger"
	"github.com/Dhoini/channel-gatekeeper/pkg/res"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Decode декодирует JSON из io.ReadCloser в структуру типа T.
func Decode[T any](body io.ReadCloser) (T, error) {
	var payload T
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return payload, err
	}
	return payload, nil
}

// IsValid валидирует структуру типа T.
func IsValid[T any](payload T) error {
	return validate.Struct(payload)
}

// HandleBody декодирует, валидирует и обрабатывает тело запроса.
// On failure the 422 response is already written.
func HandleBody[T any](w http.ResponseWriter, r *http.Request, log *logger.Logger) (*T, error) {
	body, err := Decode[T](r.Body)
	if err != nil {
		res.JsonErrorResponse(w, res.ErrorResponse{Error: "malformed request body", DebugInfo: err.Error()}, http.StatusUnprocessableEntity, log)
		return nil, err
	}

	if err := IsValid(body); err != nil {
		res.JsonErrorResponse(w, res.ErrorResponse{Error: "invalid request data", DebugInfo: err.Error()}, http.StatusUnprocessableEntity, log)
		return nil, err
	}
	return &body, nil
}

package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/bgunisex/salon-commerce/internal/logging"
	"github.com/bgunisex/salon-commerce/internal/orders"
)

var statusByKind = map[orders.Kind]int{
	orders.KindValidation:                http.StatusBadRequest,
	orders.KindNotFound:                  http.StatusNotFound,
	orders.KindInsufficientStock:         http.StatusConflict,
	orders.KindPaymentInitFailed:         http.StatusBadGateway,
	orders.KindGatewayRejected:           http.StatusBadGateway,
	orders.KindGatewayVerificationFailed: http.StatusPaymentRequired,
	orders.KindGatewayUnavailable:        http.StatusServiceUnavailable,
	orders.KindReconciliationMismatch:    http.StatusConflict,
	orders.KindConflict:                  http.StatusConflict,
	orders.KindUnauthorized:              http.StatusUnauthorized,
	orders.KindInternal:                  http.StatusInternalServerError,
}

type errorBody struct {
	Error     orders.Kind `json:"error"`
	Message   string      `json:"message"`
	ProductID string      `json:"product_id,omitempty"`
	Available *int        `json:"available,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err by kind. Internal details never reach the client.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	log = logging.OrNop(log)
	kind := orders.KindOf(err)
	code, ok := statusByKind[kind]
	if !ok {
		code = http.StatusInternalServerError
	}
	body := errorBody{Error: kind, Message: err.Error()}

	var oe *orders.Error
	if errors.As(err, &oe) {
		body.Message = oe.Message
		body.ProductID = oe.ProductID
		if oe.Kind == orders.KindInsufficientStock {
			available := oe.Available
			body.Available = &available
		}
	}
	if kind == orders.KindInternal {
		log.Error("request failed", zap.Error(err))
		if oe == nil {
			body.Message = "internal error"
		}
	}
	writeJSON(w, code, body)
}

package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bgunisex/salon-commerce/internal/checkout"
	"github.com/bgunisex/salon-commerce/internal/logging"
	"github.com/bgunisex/salon-commerce/internal/orders"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req checkout.Request) (checkout.Result, error)
}

type PaymentVerifier interface {
	Verify(ctx context.Context, txRef string) (orders.Order, error)
}

type IdempotencyStore interface {
	Begin(ctx context.Context, line orders.Line, key string) (orders.IdempotentResult, error)
	Complete(ctx context.Context, line orders.Line, key string, res orders.IdempotentResult) error
	Abandon(ctx context.Context, line orders.Line, key string) error
}

// OrdersHandler serves the per-line order API under /api/{line}.
type OrdersHandler struct {
	Checkout OrderPlacer
	Verifier PaymentVerifier
	Orders   orders.OrderStore
	Catalog  orders.Catalog
	Idem     IdempotencyStore // optional
	Auth     PrincipalResolver
	Log      *zap.Logger
}

func (h *OrdersHandler) logger() *zap.Logger { return logging.OrNop(h.Log) }

type itemReq struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0,lte=100000"`
}

type createOrderReq struct {
	Customer string           `json:"customer" validate:"required"`
	Email    string           `json:"email" validate:"required"`
	Phone    string           `json:"phone" validate:"required"`
	Items    []itemReq        `json:"items" validate:"required,min=1,dive"`
	Shipping *decimal.Decimal `json:"shipping,omitempty"`
}

type createOrderResp struct {
	Order       orders.Order `json:"order"`
	RedirectURL string       `json:"redirect_url,omitempty"`
	Idempotent  bool         `json:"idempotent"`
}

type statusReq struct {
	Status string `json:"status" validate:"required"`
}

type verifyReq struct {
	TxRef string `json:"tx_ref"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/api/{line}", func(r chi.Router) {
		r.Get("/products", h.listProducts)
		r.Route("/orders", func(r chi.Router) {
			r.Get("/verify-payment", h.verifyPayment)
			r.Post("/verify-payment", h.verifyPayment)

			r.Group(func(r chi.Router) {
				r.Use(RequireAuth(h.Auth, h.Log))
				r.Post("/", h.createOrder)
				r.Get("/", h.listOrders)
				r.Get("/{id}", h.getOrder)
				r.Patch("/{id}/status", h.updateStatus)
				r.Delete("/{id}", h.deleteOrder)
			})
		})
	})
}

func lineParam(r *http.Request) (orders.Line, error) {
	return orders.ParseLine(chi.URLParam(r, "line"))
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return orders.Validation("invalid json")
	}
	if err := validate.Struct(v); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			fe := ve[0]
			return orders.Validation(fmt.Sprintf("%s failed %s validation", fe.Namespace(), fe.Tag()))
		}
		return orders.Validation(err.Error())
	}
	return nil
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	line, err := lineParam(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	var req createOrderReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	ctx := r.Context()

	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idemKey != "" && h.Idem != nil {
		prev, err := h.Idem.Begin(ctx, line, idemKey)
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		if prev.OrderID != "" {
			o, err := h.Orders.Get(ctx, line, prev.OrderID)
			if err != nil {
				writeError(w, h.Log, err)
				return
			}
			writeJSON(w, http.StatusOK, createOrderResp{Order: o, RedirectURL: prev.RedirectURL, Idempotent: true})
			return
		}
	} else {
		idemKey = ""
	}

	creq := checkout.Request{
		Line:     line,
		Customer: orders.Customer{Name: req.Customer, Email: req.Email, Phone: req.Phone},
		Items:    make([]orders.CartItem, 0, len(req.Items)),
	}
	if p, ok := PrincipalFrom(ctx); ok {
		creq.CustomerRef = p.CustomerID
	}
	if req.Shipping != nil {
		creq.Shipping = *req.Shipping
	}
	for _, it := range req.Items {
		creq.Items = append(creq.Items, orders.CartItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	res, err := h.Checkout.PlaceOrder(ctx, creq)
	if idemKey != "" {
		// the attempt is over either way; bookkeeping must not depend on the client staying
		bctx := context.WithoutCancel(ctx)
		var berr error
		if err != nil {
			berr = h.Idem.Abandon(bctx, line, idemKey)
		} else {
			berr = h.Idem.Complete(bctx, line, idemKey, orders.IdempotentResult{
				OrderID:     res.Order.ID,
				RedirectURL: res.RedirectURL,
			})
		}
		if berr != nil {
			h.logger().Warn("idempotency bookkeeping failed", zap.String("key", idemKey), zap.Error(berr))
		}
	}
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, createOrderResp{Order: res.Order, RedirectURL: res.RedirectURL})
}

func (h *OrdersHandler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	txRef := r.URL.Query().Get("tx_ref")
	if txRef == "" && r.Method == http.MethodPost && r.ContentLength != 0 {
		var body verifyReq
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err == nil {
			txRef = body.TxRef
		}
	}
	o, err := h.Verifier.Verify(r.Context(), txRef)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	line, err := lineParam(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, h.Log, orders.Validation("limit must be a positive integer"))
			return
		}
		limit = min(n, maxListLimit)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	list, err := h.Orders.List(ctx, line, limit)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	line, err := lineParam(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.Get(ctx, line, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// updateStatus moves the fulfilment status along the allowed edges.
// Payment status is not writable through this route.
func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	line, err := lineParam(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	var req statusReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	to, err := orders.ParseFulfillmentStatus(req.Status)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	id := chi.URLParam(r, "id")
	cur, err := h.Orders.Get(ctx, line, id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if cur.Status == to {
		writeJSON(w, http.StatusOK, cur)
		return
	}
	if !orders.CanTransition(cur.Status, to) {
		writeError(w, h.Log, orders.Conflict(fmt.Sprintf("cannot move order from %s to %s", cur.Status, to)))
		return
	}
	o, err := h.Orders.UpdateStatus(ctx, line, id, cur.Status, to)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// deleteOrder removes the record only; reserved stock is not returned.
func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	line, err := lineParam(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Orders.Delete(ctx, line, chi.URLParam(r, "id")); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Order deleted successfully"})
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	line, err := lineParam(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Catalog.List(ctx, line)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if ps == nil {
		ps = []orders.Product{}
	}
	writeJSON(w, http.StatusOK, ps)
}

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"goflare.io/storefront"
	"goflare.io/storefront/cart"
	"goflare.io/storefront/catalog"
	"goflare.io/storefront/checkout"
	"goflare.io/storefront/identity"
	"goflare.io/storefront/mail"
	"goflare.io/storefront/models"
	"goflare.io/storefront/order"
	"goflare.io/storefront/payment"
	"goflare.io/storefront/profile"
)

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ProductFilter{
		Category:    q.Get("category"),
		Subcategory: q.Get("subcategory"),
	}
	var err error
	if filter.Limit, err = parseUint(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Offset, err = parseUint(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	products, err := s.svc.ListProducts(r.Context(), filter)
	if err != nil {
		s.internalError(w, "Failed to list products", err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.svc.GetProduct(r.Context(), models.ItemID(chi.URLParam(r, "id")))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Product not found")
			return
		}
		s.internalError(w, "Failed to get product", err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) handleCategoryTree(w http.ResponseWriter, r *http.Request) {
	tree, err := s.svc.GetCategoryTree(r.Context())
	if err != nil {
		s.internalError(w, "Failed to load categories", err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleViewCart(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.ViewCart(r.Context(), deviceFrom(r.Context()))
	s.writeCart(w, view, err)
}

type addItemRequest struct {
	ID       models.ItemID `json:"id"`
	Quantity int           `json:"quantity"`
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID.IsZero() {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	view, err := s.svc.AddToCart(r.Context(), deviceFrom(r.Context()), req.ID, req.Quantity)
	s.writeCart(w, view, err)
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.RemoveFromCart(r.Context(), deviceFrom(r.Context()), models.ItemID(chi.URLParam(r, "id")))
	s.writeCart(w, view, err)
}

func (s *Server) handleIncrementItem(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.IncrementCartItem(r.Context(), deviceFrom(r.Context()), models.ItemID(chi.URLParam(r, "id")))
	s.writeCart(w, view, err)
}

func (s *Server) handleDecrementItem(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.DecrementCartItem(r.Context(), deviceFrom(r.Context()), models.ItemID(chi.URLParam(r, "id")))
	s.writeCart(w, view, err)
}

func (s *Server) handleClearCart(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.ClearCart(r.Context(), deviceFrom(r.Context()))
	s.writeCart(w, view, err)
}

func (s *Server) handleCheckoutURL(w http.ResponseWriter, r *http.Request) {
	state := sessionFrom(r.Context()).State()
	url, err := s.svc.CheckoutURL(r.Context(), deviceFrom(r.Context()), state.Authenticated())
	if err != nil {
		s.writeCart(w, models.CartView{}, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) writeCart(w http.ResponseWriter, view models.CartView, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, view)
	case errors.Is(err, cart.ErrDeviceRequired):
		writeError(w, http.StatusBadRequest, "device id is required")
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, "Product not found")
	case errors.Is(err, catalog.ErrOutOfStock):
		writeError(w, http.StatusConflict, "Out of stock")
	case errors.Is(err, storefront.ErrItemNotInCart):
		writeError(w, http.StatusNotFound, "Item is not in the cart")
	default:
		s.internalError(w, "Failed to update cart", err)
	}
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r.Context()).State())
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess := sessionFrom(r.Context())
	if err := sess.SignIn(r.Context(), req.Email, req.Password); err != nil {
		writeError(w, authStatus(err), sess.State().Error)
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req profile.SignupRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, p, err := s.signup.Register(r.Context(), req)
	if err != nil {
		msg := identity.Message(err)
		status := authStatus(err)
		if status == http.StatusInternalServerError {
			msg = profile.SignupFailedMessage
			s.logger.Error("Signup failed", zap.Error(err))
		}
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user, "profile": p})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	if !sess.State().Authenticated() {
		writeError(w, http.StatusUnauthorized, identity.Message(identity.ErrUnauthenticated))
		return
	}
	if err := sess.SignOut(r.Context()); err != nil {
		s.logger.Error("Failed to log out", zap.Error(err))
		writeError(w, http.StatusBadGateway, "Failed to log out")
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess := sessionFrom(r.Context())
	if err := sess.ResetPassword(r.Context(), req.Email); err != nil {
		writeError(w, authStatus(err), sess.State().Error)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password reset email sent"})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var shipping models.ShippingDetails
	if err := decodeJSON(r.Body, &shipping); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.svc.BeginCheckout(r.Context(), checkout.Request{
		DeviceID: deviceFrom(r.Context()),
		User:     sessionFrom(r.Context()).State().User,
		Shipping: shipping,
	})

	var verr *checkout.ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, result)
	case errors.Is(err, checkout.ErrAuthRequired):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: identity.Message(identity.ErrUnauthenticated), Redirect: result.Redirect})
	case errors.Is(err, checkout.ErrEmptyCart):
		writeJSON(w, http.StatusConflict, errorBody{Error: "Your cart is empty", Redirect: result.Redirect})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: verr.Error(), Missing: verr.Missing, Invalid: verr.Invalid})
	case errors.Is(err, payment.ErrGatewayUnavailable):
		s.logger.Error("Payment gateway unavailable", zap.Error(err))
		writeError(w, http.StatusBadGateway, checkout.MessageGatewayDown)
	default:
		s.writeCart(w, models.CartView{}, err)
	}
}

type orderResponse struct {
	*models.Order
	Message string `json:"message"`
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	user := sessionFrom(r.Context()).State().User
	if user == nil {
		writeError(w, http.StatusUnauthorized, identity.Message(identity.ErrUnauthenticated))
		return
	}

	o, err := s.svc.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Order not found")
			return
		}
		s.internalError(w, "Failed to get order", err)
		return
	}
	// 只能看自己的訂單
	if o.CustomerID != user.UID {
		writeError(w, http.StatusNotFound, "Order not found")
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: o, Message: checkout.StatusMessage(o.Status)})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	user := sessionFrom(r.Context()).State().User
	if user == nil {
		writeError(w, http.StatusUnauthorized, identity.Message(identity.ErrUnauthenticated))
		return
	}

	q := r.URL.Query()
	limit, err := parseUint(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := parseUint(q.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	orders, err := s.svc.ListOrders(r.Context(), user.UID, limit, offset)
	if err != nil {
		s.internalError(w, "Failed to list orders", err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	var msg mail.ContactMessage
	if err := decodeJSON(r.Body, &msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := msg.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.mailer.SendContact(r.Context(), msg); err != nil {
		s.logger.Error("Failed to send contact message", zap.Error(err))
		writeError(w, http.StatusBadGateway, "Failed to send message")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Message sent"})
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		writeError(w, http.StatusServiceUnavailable, "webhooks are not configured")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	event, err := s.relay.Relay(payload, r.Header.Get("Stripe-Signature"))
	if errors.Is(err, payment.ErrRelayUnavailable) {
		// 回 503 讓 Stripe 重送
		s.logger.Error("Webhook not relayed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "webhook not accepted, retry later")
		return
	}
	if err != nil {
		s.logger.Warn("Rejected webhook", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid webhook")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"received": event.ID})
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, msg)
}

func authStatus(err error) int {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials), errors.Is(err, identity.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, identity.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case identity.Message(err) != identity.UnexpectedMessage:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error    string   `json:"error"`
	Redirect string   `json:"redirect,omitempty"`
	Missing  []string `json:"missing,omitempty"`
	Invalid  []string `json:"invalid,omitempty"`
}

func parseUint(v string) (uint64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseUint(v, 10, 64)
}

func decodeJSON(body io.ReadCloser, dst any) error {
	defer body.Close()
	return json.NewDecoder(body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

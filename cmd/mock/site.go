package main

import (
	"encoding/json"
	"html/template"
	"math/rand"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

// site keeps one shopper's state in memory: there is a single browser on the other end.
type site struct {
	products  []string
	inStock   map[string]bool
	stockRate float64
	roll      func() float64

	mu        sync.Mutex
	signedIn  bool
	cart      []string
	checkout  bool
	lastOrder string
}

func newSite(products, inStock []string, stockRate float64) *site {
	s := &site{
		products:  products,
		inStock:   make(map[string]bool, len(inStock)),
		stockRate: stockRate,
		roll:      rand.Float64,
	}
	for _, sku := range inStock {
		s.inStock[sku] = true
	}
	return s
}

func (s *site) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.handleHome)
	r.Get("/identity/global/signin", s.handleSignInPage)
	r.Post("/identity/global/signin", s.handleSignIn)
	r.Get("/site/{sku}", s.handleProduct)
	r.Get("/site/customer/lists/manage/saveditems", s.handleSavedItems)
	r.Get("/cart", s.handleCart)
	r.Post("/api/cart/{sku}", s.handleAddToCart)
	r.Post("/api/checkout", s.handleCheckout)
	r.Post("/api/order", s.handleOrder)
	r.Get("/mock/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	return r
}

func (s *site) available(sku string) bool {
	if s.inStock[sku] {
		return true
	}
	return s.roll() < s.stockRate
}

func (s *site) known(sku string) bool {
	return slices.Contains(s.products, sku)
}

func (s *site) handleHome(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	signedIn := s.signedIn
	s.mu.Unlock()
	render(w, homeTpl, map[string]any{"SignedIn": signedIn, "Products": s.products})
}

func (s *site) handleSignInPage(w http.ResponseWriter, _ *http.Request) {
	render(w, signInTpl, nil)
}

func (s *site) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(r.PostForm.Get("email")) == "" || r.PostForm.Get("password") == "" {
		http.Error(w, "email and password are required", http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	s.signedIn = true
	s.mu.Unlock()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *site) handleProduct(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	if !s.known(sku) {
		http.NotFound(w, r)
		return
	}
	s.mu.Lock()
	paying := s.signedIn && s.checkout && len(s.cart) > 0
	s.mu.Unlock()
	render(w, productTpl, map[string]any{
		"SKU":       sku,
		"Available": s.available(sku),
		"Paying":    paying,
	})
}

type savedCard struct {
	SKU       string
	Href      string
	Available bool
}

func (s *site) handleSavedItems(w http.ResponseWriter, r *http.Request) {
	cards := make([]savedCard, 0, len(s.products))
	for _, sku := range s.products {
		cards = append(cards, savedCard{
			SKU:       sku,
			Href:      "http://" + r.Host + "/site/" + sku,
			Available: s.available(sku),
		})
	}
	render(w, savedTpl, map[string]any{"Cards": cards})
}

func (s *site) handleCart(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	items := append([]string(nil), s.cart...)
	s.mu.Unlock()
	render(w, cartTpl, map[string]any{"Items": items})
}

func (s *site) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	if !s.known(sku) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown sku"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.signedIn {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "sign in first"})
		return
	}
	if !slices.Contains(s.cart, sku) {
		s.cart = append(s.cart, sku)
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": s.cart})
}

func (s *site) handleCheckout(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cart) == 0 {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "cart is empty"})
		return
	}
	s.checkout = true
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *site) handleOrder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CVV string `json:"cvv"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid body"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.checkout || len(s.cart) == 0 {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "nothing to order"})
		return
	}
	if len(strings.TrimSpace(body.CVV)) < 3 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid security code"})
		return
	}
	s.lastOrder = "BBY01-" + randString(10)
	s.cart = nil
	s.checkout = false
	writeJSON(w, http.StatusOK, map[string]any{"orderId": s.lastOrder})
}

func render(w http.ResponseWriter, tpl *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tpl.Execute(w, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package checkouttest serves a fake store speaking the checkout protocol, for
// tests of the checkout, fleet and bot packages.
package checkouttest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

const (
	sessionCookie = "store_sid"
	GatewayID     = "9001"
	RateID        = "shopify-Standard-5.00"
	variantGID    = "gid://shopify/ProductVariant/"
)

type Variant struct {
	ID        int64
	Title     string
	Price     int
	Available bool
}

type Product struct {
	Handle   string
	Title    string
	Variants []Variant
}

// DefaultProducts is the catalog served when Options.Products is empty.
func DefaultProducts() []Product {
	return []Product{
		{
			Handle: "elite-trainer-box",
			Title:  "Elite Trainer Box",
			Variants: []Variant{
				{ID: 101, Title: "Standard", Price: 4999, Available: false},
				{ID: 102, Title: "Pokemon Center Exclusive", Price: 5999, Available: true},
			},
		},
		{
			Handle:   "booster-bundle",
			Title:    "Booster Bundle",
			Variants: []Variant{{ID: 201, Title: "Default Title", Price: 2699, Available: true}},
		},
	}
}

type Options struct {
	Products []Product

	// DirectLink makes /cart/{id}:{qty} redirect straight to a checkout.
	DirectLink bool

	// SoldOut rejects every add to cart with 422.
	SoldOut bool

	// QueuePolls is the amount of queue pages served before the checkout page.
	QueuePolls int

	// PollEndpoint advertises a separate queue poll url on the queue page.
	PollEndpoint bool

	FailShipping  bool
	NoRatesInPage bool

	// RatesPending is the amount of 202 answers of the rates endpoint.
	RatesPending int

	// ProcessingPolls is the amount of processing pages served after payment.
	ProcessingPolls int

	OmitPaymentToken   bool
	OmitTokenAfterRate bool

	Storefront bool
	VaultFails bool

	// SucceedFor decides whether a payment for email goes through. Nil accepts all.
	SucceedFor func(email string) bool
}

type Stats struct {
	Requests         int
	Paths            []string
	CheckoutsCreated int
	ShippingPosts    int
	RatePosts        int
	PaymentPosts     int
	VaultCalls       int
	GraphQLCalls     int
	QueueServed      int
	StaleRejections  int
	Orders           []string
}

type session struct {
	id             string
	cart           map[int64]int
	checkout       string
	token          string
	tokenSeq       int
	email          string
	queueLeft      int
	ratesPending   int
	processingLeft int
	shippingDone   bool
	rateSelected   bool
}

type Store struct {
	*httptest.Server

	opts     Options
	mu       sync.Mutex
	sessions map[string]*session
	stats    Stats
}

func NewStore(opts Options) *Store {
	if len(opts.Products) == 0 {
		opts.Products = DefaultProducts()
	}
	s := &Store{opts: opts, sessions: map[string]*session{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

func (s *Store) VaultURL() string {
	return s.URL + "/vault/sessions"
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.stats
	out.Paths = append([]string(nil), s.stats.Paths...)
	out.Orders = append([]string(nil), s.stats.Orders...)
	return out
}

func (s *Store) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Requests++
	s.stats.Paths = append(s.stats.Paths, r.Method+" "+r.URL.Path)
	sess := s.session(w, r)
	path := r.URL.Path

	switch {
	case path == "/" && r.Method == http.MethodGet:
		http.SetCookie(w, &http.Cookie{Name: "localization", Value: "US", Path: "/"})
		io.WriteString(w, "<html><body>home</body></html>")
	case path == "/cart" && r.Method == http.MethodGet:
		http.SetCookie(w, &http.Cookie{Name: "cart", Value: sess.id + "-cart", Path: "/"})
		io.WriteString(w, "<html><body>cart</body></html>")
	case path == "/cart" && r.Method == http.MethodPost:
		s.createFromCart(w, r, sess)
	case path == "/cart/clear.js":
		sess.cart = map[int64]int{}
		io.WriteString(w, "{}")
	case path == "/cart/add.js":
		s.addToCart(w, r, sess)
	case strings.HasPrefix(path, "/cart/"):
		s.directLink(w, r, sess)
	case strings.HasPrefix(path, "/products/") && strings.HasSuffix(path, ".js"):
		s.productJS(w, strings.TrimSuffix(strings.TrimPrefix(path, "/products/"), ".js"))
	case path == "/products.json":
		s.catalog(w, r)
	case path == "/search/suggest.json":
		s.suggest(w, r)
	case path == "/vault/sessions":
		s.vault(w, r)
	case path == "/throttle/queue/poll":
		s.queuePoll(w, sess)
	case strings.HasPrefix(path, "/api/") && strings.HasSuffix(path, "/graphql.json"):
		s.graphql(w, r, sess)
	case strings.HasPrefix(path, "/checkouts/"):
		s.checkout(w, r, sess)
	default:
		http.NotFound(w, r)
	}
}

func (s *Store) session(w http.ResponseWriter, r *http.Request) *session {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if sess, ok := s.sessions[c.Value]; ok {
			return sess
		}
	}

	sess := &session{id: fmt.Sprintf("s%d", len(s.sessions)+1), cart: map[int64]int{}}
	s.sessions[sess.id] = sess
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: sess.id, Path: "/", HttpOnly: true})
	return sess
}

func (s *Store) variant(id int64) (*Product, *Variant) {
	for pi := range s.opts.Products {
		p := &s.opts.Products[pi]
		for vi := range p.Variants {
			if p.Variants[vi].ID == id {
				return p, &p.Variants[vi]
			}
		}
	}
	return nil, nil
}

func (s *Store) purchasable(id int64) bool {
	_, v := s.variant(id)
	return v != nil && v.Available && !s.opts.SoldOut
}

func (s *Store) newCheckout(sess *session) string {
	s.stats.CheckoutsCreated++
	sess.checkout = fmt.Sprintf("c%d", s.stats.CheckoutsCreated)
	sess.queueLeft = s.opts.QueuePolls
	sess.ratesPending = s.opts.RatesPending
	sess.shippingDone = false
	sess.rateSelected = false
	return "/checkouts/" + sess.checkout
}

func (s *Store) directLink(w http.ResponseWriter, r *http.Request, sess *session) {
	line := strings.TrimPrefix(r.URL.Path, "/cart/")
	idPart, _, _ := strings.Cut(line, ":")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || !s.opts.DirectLink || !s.purchasable(id) {
		http.Redirect(w, r, "/cart", http.StatusFound)
		return
	}
	http.Redirect(w, r, s.newCheckout(sess), http.StatusFound)
}

func (s *Store) addToCart(w http.ResponseWriter, r *http.Request, sess *session) {
	var id int64
	qty := 1
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Items []struct {
				ID       int64 `json:"id"`
				Quantity int   `json:"quantity"`
			} `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Items) == 0 {
			http.Error(w, `{"status":400}`, http.StatusBadRequest)
			return
		}
		id, qty = body.Items[0].ID, body.Items[0].Quantity
	} else {
		r.ParseForm()
		id, _ = strconv.ParseInt(r.PostForm.Get("id"), 10, 64)
		if q, err := strconv.Atoi(r.PostForm.Get("quantity")); err == nil {
			qty = q
		}
	}

	if !s.purchasable(id) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"status":422,"description":"sold out"}`)
		return
	}
	sess.cart[id] += qty
	fmt.Fprintf(w, `{"id":%d,"quantity":%d}`, id, sess.cart[id])
}

func (s *Store) createFromCart(w http.ResponseWriter, r *http.Request, sess *session) {
	r.ParseForm()
	if _, ok := r.PostForm["checkout"]; !ok || len(sess.cart) == 0 {
		http.Redirect(w, r, "/cart", http.StatusFound)
		return
	}
	http.Redirect(w, r, s.newCheckout(sess), http.StatusFound)
}

type productJSON struct {
	Title    string        `json:"title"`
	Handle   string        `json:"handle"`
	Variants []variantJSON `json:"variants"`
}

type variantJSON struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Price     any    `json:"price"`
	Available bool   `json:"available"`
}

func toJSON(p Product, priceAsString bool) productJSON {
	out := productJSON{Title: p.Title, Handle: p.Handle}
	for _, v := range p.Variants {
		var price any = v.Price
		if priceAsString {
			price = fmt.Sprintf("%d.%02d", v.Price/100, v.Price%100)
		}
		out.Variants = append(out.Variants, variantJSON{ID: v.ID, Title: v.Title, Price: price, Available: v.Available})
	}
	return out
}

func (s *Store) productJS(w http.ResponseWriter, handle string) {
	for _, p := range s.opts.Products {
		if p.Handle == handle {
			json.NewEncoder(w).Encode(toJSON(p, false))
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
	io.WriteString(w, `{"error":"not found"}`)
}

func (s *Store) catalog(w http.ResponseWriter, r *http.Request) {
	products := []productJSON{}
	if page := r.URL.Query().Get("page"); page == "" || page == "1" {
		for _, p := range s.opts.Products {
			products = append(products, toJSON(p, true))
		}
	}
	json.NewEncoder(w).Encode(map[string]any{"products": products})
}

func (s *Store) suggest(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(r.URL.Query().Get("q"))

	type hit struct {
		Handle    string `json:"handle"`
		Title     string `json:"title"`
		Available bool   `json:"available"`
	}
	hits := []hit{}
	for _, p := range s.opts.Products {
		if q == "" || !strings.Contains(strings.ToLower(p.Title), q) {
			continue
		}
		available := false
		for _, v := range p.Variants {
			available = available || v.Available
		}
		hits = append(hits, hit{Handle: p.Handle, Title: p.Title, Available: available})
	}

	json.NewEncoder(w).Encode(map[string]any{
		"resources": map[string]any{"results": map[string]any{"products": hits}},
	})
}

func (s *Store) vault(w http.ResponseWriter, r *http.Request) {
	s.stats.VaultCalls++
	if s.opts.VaultFails {
		http.Error(w, "vault unavailable", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		CreditCard struct {
			Number string `json:"number"`
		} `json:"credit_card"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CreditCard.Number == "" {
		http.Error(w, `{"errors":"card required"}`, http.StatusUnprocessableEntity)
		return
	}
	fmt.Fprintf(w, `{"id":"vault-%d"}`, s.stats.VaultCalls)
}

func (s *Store) queuePoll(w http.ResponseWriter, sess *session) {
	if sess.queueLeft > 0 {
		sess.queueLeft--
		s.stats.QueueServed++
		fmt.Fprintf(w, `{"status":"queued","queue_token":"q-%s"}`, sess.id)
		return
	}
	io.WriteString(w, `{"status":"passed"}`)
}

func (s *Store) checkout(w http.ResponseWriter, r *http.Request, sess *session) {
	rest := strings.TrimPrefix(r.URL.Path, "/checkouts/")
	token, sub, _ := strings.Cut(rest, "/")
	if token == "" || token != sess.checkout {
		http.NotFound(w, r)
		return
	}
	base := "/checkouts/" + token

	switch {
	case sub == "" && r.Method == http.MethodGet:
		s.checkoutPage(w, sess, r.URL.Query().Get("step"))
	case sub == "" && r.Method == http.MethodPost:
		s.checkoutSubmit(w, r, sess, base)
	case sub == "shipping_rates.json":
		if sess.ratesPending > 0 {
			sess.ratesPending--
			w.WriteHeader(http.StatusAccepted)
			return
		}
		fmt.Fprintf(w, `{"shipping_rates":[{"id":%q,"title":"Standard","price":"5.00"}]}`, RateID)
	case sub == "processing":
		if sess.processingLeft > 0 {
			sess.processingLeft--
			io.WriteString(w, "<html><body><p>Processing your order</p></body></html>")
			return
		}
		http.Redirect(w, r, base+"/thank_you", http.StatusFound)
	case sub == "thank_you":
		io.WriteString(w, "<html><body><h1>Thank you for your order</h1></body></html>")
	default:
		http.NotFound(w, r)
	}
}

func (s *Store) checkoutPage(w http.ResponseWriter, sess *session, step string) {
	if sess.queueLeft > 0 {
		sess.queueLeft--
		s.stats.QueueServed++
		poll := ""
		if s.opts.PollEndpoint {
			poll = `<div data-poll-url="/throttle/queue/poll"></div>`
		}
		fmt.Fprintf(w, `<html><body><div id="queue-page">You are in line</div>%s</body></html>`, poll)
		return
	}

	var b strings.Builder
	b.WriteString("<html><body><form method=\"post\">")
	omit := (s.opts.OmitPaymentToken && step == "payment_method") ||
		(s.opts.OmitTokenAfterRate && sess.rateSelected)
	if !omit {
		sess.tokenSeq++
		sess.token = fmt.Sprintf("tok-%s-%d", sess.id, sess.tokenSeq)
		fmt.Fprintf(&b, `<input type="hidden" name="authenticity_token" value="%s">`, sess.token)
	}
	if step == "shipping_method" && sess.shippingDone && !s.opts.NoRatesInPage {
		fmt.Fprintf(&b, `<div class="radio-wrapper" data-shipping-method="%s"></div>`, RateID)
		b.WriteString(`<div class="radio-wrapper" data-shipping-method="shopify-Express-15.00"></div>`)
	}
	fmt.Fprintf(&b, `<div data-select-gateway="%s"></div>`, GatewayID)
	b.WriteString("</form></body></html>")

	io.WriteString(w, b.String())
}

func (s *Store) checkoutSubmit(w http.ResponseWriter, r *http.Request, sess *session, base string) {
	r.ParseForm()
	form := r.PostForm

	if sess.token == "" || form.Get("authenticity_token") != sess.token {
		s.stats.StaleRejections++
		http.Error(w, "invalid authenticity token", http.StatusUnprocessableEntity)
		return
	}
	sess.token = ""

	switch {
	case form.Get("complete") == "1":
		s.stats.PaymentPosts++
		if form.Get("checkout[payment_gateway]") != GatewayID ||
			(form.Get("s") == "" && form.Get("checkout[credit_card][number]") == "") {
			http.Error(w, "invalid payment", http.StatusUnprocessableEntity)
			return
		}
		if s.opts.SucceedFor != nil && !s.opts.SucceedFor(sess.email) {
			io.WriteString(w, "<html><body><p class=\"notice\">Your card was declined</p></body></html>")
			return
		}
		s.stats.Orders = append(s.stats.Orders, sess.email)
		if s.opts.ProcessingPolls > 0 {
			sess.processingLeft = s.opts.ProcessingPolls
			http.Redirect(w, r, base+"/processing", http.StatusFound)
			return
		}
		http.Redirect(w, r, base+"/thank_you", http.StatusFound)

	case form.Get("step") == "shipping_method":
		s.stats.ShippingPosts++
		if s.opts.FailShipping {
			http.Error(w, "address rejected", http.StatusInternalServerError)
			return
		}
		sess.email = form.Get("checkout[email]")
		sess.shippingDone = true
		http.Redirect(w, r, base+"?step=shipping_method", http.StatusFound)

	case form.Get("step") == "payment_method":
		s.stats.RatePosts++
		if form.Get("checkout[shipping_rate][id]") == "" {
			http.Error(w, "rate required", http.StatusUnprocessableEntity)
			return
		}
		sess.rateSelected = true
		http.Redirect(w, r, base+"?step=payment_method", http.StatusFound)

	default:
		http.Error(w, "unknown step", http.StatusBadRequest)
	}
}

func (s *Store) graphql(w http.ResponseWriter, r *http.Request, sess *session) {
	if !s.opts.Storefront {
		http.NotFound(w, r)
		return
	}
	s.stats.GraphQLCalls++
	if r.Header.Get("X-Shopify-Storefront-Access-Token") == "" {
		http.Error(w, `{"errors":[{"message":"unauthorized"}]}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Query     string `json:"query"`
		Variables struct {
			Input struct {
				Lines []struct {
					MerchandiseID string `json:"merchandiseId"`
					Quantity      int    `json:"quantity"`
				} `json:"lines"`
				BuyerIdentity struct {
					Email string `json:"email"`
				} `json:"buyerIdentity"`
			} `json:"input"`
			CartID string `json:"cartId"`
		} `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"errors":[{"message":"bad request"}]}`, http.StatusBadRequest)
		return
	}

	cart := func() map[string]any {
		return map[string]any{
			"id":          "gid://shopify/Cart/" + sess.id,
			"checkoutUrl": s.URL + "/checkouts/" + sess.checkout,
			"deliveryGroups": map[string]any{"edges": []any{map[string]any{"node": map[string]any{
				"id":              "gid://shopify/CartDeliveryGroup/1",
				"deliveryOptions": []any{map[string]string{"handle": "standard", "title": "Standard"}},
			}}}},
		}
	}

	switch {
	case strings.Contains(req.Query, "cartCreate("):
		lines := req.Variables.Input.Lines
		id := int64(0)
		if len(lines) > 0 {
			id, _ = strconv.ParseInt(strings.TrimPrefix(lines[0].MerchandiseID, variantGID), 10, 64)
		}
		if !s.purchasable(id) {
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"cartCreate": map[string]any{
				"cart":       nil,
				"userErrors": []any{map[string]any{"field": []string{"lines"}, "message": "sold out"}},
			}}})
			return
		}
		s.newCheckout(sess)
		sess.email = req.Variables.Input.BuyerIdentity.Email
		sess.shippingDone = true
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"cartCreate": map[string]any{
			"cart": cart(), "userErrors": []any{},
		}}})
	case strings.Contains(req.Query, "cartSelectedDeliveryOptionsUpdate("):
		sess.rateSelected = true
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"cartSelectedDeliveryOptionsUpdate": map[string]any{
			"cart": cart(), "userErrors": []any{},
		}}})
	default:
		json.NewEncoder(w).Encode(map[string]any{"errors": []any{map[string]string{"message": "unsupported operation"}}})
	}
}

package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	customerrors "github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/custom-types/custom-errors"

	"github.com/antzucaro/matchr"
)

// similarityThreshold is the lowest Jaro-Winkler score accepted as a title match.
const similarityThreshold = 0.85

type productVariant struct {
	ID        json.Number     `json:"id"`
	Title     string          `json:"title"`
	Price     json.RawMessage `json:"price"`
	Available bool            `json:"available"`
}

type product struct {
	Title    string           `json:"title"`
	Handle   string           `json:"handle"`
	Variants []productVariant `json:"variants"`
}

func (v productVariant) toVariant(productTitle string) *Variant {
	title := v.Title
	if title == "" || title == "Default Title" {
		title = productTitle
	}
	return &Variant{
		ID:        v.ID.String(),
		Title:     title,
		Price:     strings.Trim(string(v.Price), `"`),
		Available: v.Available,
	}
}

type variantStrategy struct {
	name    string
	resolve func(context.Context, Target) (*Variant, error)
}

func (m *Machine) variantStrategies() []variantStrategy {
	return []variantStrategy{
		{"explicit id", m.explicitVariant},
		{"product data", m.productVariant},
		{"search", m.searchVariant},
		{"catalog", m.catalogVariant},
	}
}

// ResolveVariant walks the lookup strategies in order and returns the first
// available variant found.
func (m *Machine) ResolveVariant(ctx context.Context, t Target) (*Variant, error) {
	for _, strategy := range m.variantStrategies() {
		if err := m.checkpoint(ctx); err != nil {
			return nil, err
		}

		v, err := strategy.resolve(ctx, t)
		if err != nil {
			m.log.Error("variant lookup by %s failed: %v", strategy.name, err)
			continue
		}
		if v == nil || !v.Available {
			continue
		}

		m.log.Info("resolved variant %s (%s) by %s", v.ID, v.Title, strategy.name)
		return v, nil
	}

	return nil, fail(StepResolveVariant, ErrNoVariant)
}

func (m *Machine) explicitVariant(_ context.Context, t Target) (*Variant, error) {
	if t.VariantID == "" {
		return nil, nil
	}
	return &Variant{ID: t.VariantID, Title: t.ItemName, Available: true}, nil
}

func (m *Machine) productVariant(ctx context.Context, t Target) (*Variant, error) {
	if t.ProductHandle == "" {
		return nil, nil
	}

	p, err := m.fetchProduct(ctx, t.ProductHandle)
	if err != nil {
		return nil, err
	}
	return pickVariant(p, t.ItemName), nil
}

type suggestResponse struct {
	Resources struct {
		Results struct {
			Products []struct {
				Handle    string `json:"handle"`
				Title     string `json:"title"`
				Available bool   `json:"available"`
			} `json:"products"`
		} `json:"results"`
	} `json:"resources"`
}

func (m *Machine) searchVariant(ctx context.Context, t Target) (*Variant, error) {
	if t.ItemName == "" {
		return nil, nil
	}

	query := url.Values{}
	query.Set("q", t.ItemName)
	query.Set("resources[type]", "product")
	query.Set("resources[limit]", "10")

	var suggest suggestResponse
	if err := m.getJSON(ctx, "/search/suggest.json?"+query.Encode(), &suggest); err != nil {
		return nil, err
	}

	for _, hit := range suggest.Resources.Results.Products {
		if !hit.Available || hit.Handle == "" {
			continue
		}
		p, err := m.fetchProduct(ctx, hit.Handle)
		if err != nil {
			m.log.Error("product data for %s: %v", hit.Handle, err)
			continue
		}
		if v := pickVariant(p, t.ItemName); v != nil {
			return v, nil
		}
	}

	return nil, nil
}

func (m *Machine) catalogVariant(ctx context.Context, t Target) (*Variant, error) {
	if t.ItemName == "" && t.ProductHandle == "" {
		return nil, nil
	}

	for pageNum := 1; pageNum <= m.settings.CatalogPages; pageNum++ {
		var catalog struct {
			Products []product `json:"products"`
		}
		if err := m.getJSON(ctx, fmt.Sprintf("/products.json?limit=250&page=%d", pageNum), &catalog); err != nil {
			return nil, err
		}
		if len(catalog.Products) == 0 {
			return nil, nil
		}

		for _, p := range catalog.Products {
			if t.ProductHandle != "" && p.Handle == t.ProductHandle {
				if v := pickVariant(&p, t.ItemName); v != nil {
					return v, nil
				}
				continue
			}
			if t.ItemName != "" && strings.Contains(normalizeTitle(p.Title), normalizeTitle(t.ItemName)) {
				if v := pickVariant(&p, t.ItemName); v != nil {
					return v, nil
				}
			}
		}
	}

	return nil, nil
}

func (m *Machine) fetchProduct(ctx context.Context, handle string) (*product, error) {
	var p product
	if err := m.getJSON(ctx, "/products/"+url.PathEscape(handle)+".js", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (m *Machine) getJSON(ctx context.Context, path string, into any) error {
	resp, err := m.get(ctx, path)
	if err != nil {
		return err
	}
	if resp.Status != 200 {
		return customerrors.InferHttpError(resp.Status)
	}
	if err := json.Unmarshal([]byte(resp.Body), into); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// pickVariant chooses among the available variants of p: an exact title wins,
// then a substring match, then the closest title above the similarity threshold.
// When the product title itself matches, its first available variant is taken.
func pickVariant(p *product, query string) *Variant {
	available := []*Variant{}
	for _, v := range p.Variants {
		if v.Available {
			available = append(available, v.toVariant(p.Title))
		}
	}
	if len(available) == 0 {
		return nil
	}

	q := normalizeTitle(query)
	if q == "" {
		return available[0]
	}

	for _, v := range available {
		if normalizeTitle(v.Title) == q {
			return v
		}
	}
	for _, v := range available {
		if strings.Contains(normalizeTitle(v.Title), q) {
			return v
		}
	}

	var best *Variant
	bestScore := 0.0
	for _, v := range available {
		score := matchr.JaroWinkler(q, normalizeTitle(v.Title), false)
		if score > bestScore {
			best, bestScore = v, score
		}
	}
	if bestScore >= similarityThreshold {
		return best
	}

	if strings.Contains(normalizeTitle(p.Title), q) {
		return available[0]
	}

	return nil
}

func normalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

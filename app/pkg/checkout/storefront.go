package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	customerrors "github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/custom-types/custom-errors"
)

const cartCreateMutation = `mutation cartCreate($input: CartInput!) {
  cartCreate(input: $input) {
    cart {
      id
      checkoutUrl
      deliveryGroups(first: 1) {
        edges { node { id deliveryOptions { handle title } } }
      }
    }
    userErrors { field message }
  }
}`

const deliverySelectMutation = `mutation cartSelectedDeliveryOptionsUpdate($cartId: ID!, $selectedDeliveryOptions: [CartSelectedDeliveryOptionInput!]!) {
  cartSelectedDeliveryOptionsUpdate(cartId: $cartId, selectedDeliveryOptions: $selectedDeliveryOptions) {
    cart { id checkoutUrl }
    userErrors { field message }
  }
}`

type graphqlError struct {
	Message string `json:"message"`
}

type userError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

type storefrontCart struct {
	ID             string `json:"id"`
	CheckoutURL    string `json:"checkoutUrl"`
	DeliveryGroups struct {
		Edges []struct {
			Node struct {
				ID              string `json:"id"`
				DeliveryOptions []struct {
					Handle string `json:"handle"`
					Title  string `json:"title"`
				} `json:"deliveryOptions"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"deliveryGroups"`
}

type cartPayload struct {
	Cart       *storefrontCart `json:"cart"`
	UserErrors []userError     `json:"userErrors"`
}

func (p *cartPayload) err() error {
	if p == nil {
		return errors.New("empty cart payload")
	}
	if len(p.UserErrors) > 0 {
		msgs := make([]string, 0, len(p.UserErrors))
		for _, ue := range p.UserErrors {
			msgs = append(msgs, ue.Message)
		}
		return fmt.Errorf("storefront rejected the cart: %s", strings.Join(msgs, "; "))
	}
	if p.Cart == nil || p.Cart.CheckoutURL == "" {
		return errors.New("storefront returned no checkout url")
	}
	return nil
}

// runStorefront creates the cart with the buyer and delivery address through
// the storefront API, leaving only the payment to the form flow.
func (m *Machine) runStorefront(ctx context.Context, t Target) error {
	m.path = PathStorefront

	v, err := m.ResolveVariant(ctx, t)
	if err != nil {
		return err
	}

	addr := t.Buyer.Address
	input := map[string]any{
		"lines": []map[string]any{{
			"merchandiseId": "gid://shopify/ProductVariant/" + v.ID,
			"quantity":      t.Quantity,
		}},
		"buyerIdentity": map[string]any{
			"email":       t.Buyer.Email,
			"countryCode": strings.ToUpper(addr.Country),
			"deliveryAddressPreferences": []map[string]any{{
				"deliveryAddress": map[string]string{
					"firstName": addr.FirstName,
					"lastName":  addr.LastName,
					"address1":  addr.Address1,
					"address2":  addr.Address2,
					"city":      addr.City,
					"province":  addr.Province,
					"zip":       addr.Zip,
					"country":   addr.Country,
					"phone":     addr.Phone,
				},
			}},
		},
	}

	var created struct {
		CartCreate *cartPayload `json:"cartCreate"`
	}
	if err := m.graphql(ctx, cartCreateMutation, map[string]any{"input": input}, &created); err != nil {
		return err
	}
	if err := created.CartCreate.err(); err != nil {
		return err
	}
	cart := created.CartCreate.Cart

	if len(cart.DeliveryGroups.Edges) == 0 || len(cart.DeliveryGroups.Edges[0].Node.DeliveryOptions) == 0 {
		return errors.New("storefront offered no delivery options")
	}
	group := cart.DeliveryGroups.Edges[0].Node
	option := group.DeliveryOptions[0]

	var selected struct {
		CartSelectedDeliveryOptionsUpdate *cartPayload `json:"cartSelectedDeliveryOptionsUpdate"`
	}
	if err := m.graphql(ctx, deliverySelectMutation, map[string]any{
		"cartId": cart.ID,
		"selectedDeliveryOptions": []map[string]string{{
			"deliveryGroupId":      group.ID,
			"deliveryOptionHandle": option.Handle,
		}},
	}, &selected); err != nil {
		return err
	}
	if err := selected.CartSelectedDeliveryOptionsUpdate.err(); err != nil {
		return err
	}
	m.log.Info("storefront cart created with delivery option %s", option.Title)

	m.setCheckout(selected.CartSelectedDeliveryOptionsUpdate.Cart.CheckoutURL)
	m.sess.ShippingSubmitted = true

	if err := m.checkpoint(ctx); err != nil {
		return err
	}
	_, err = m.loadCheckout(ctx, m.sess.CheckoutURL, StepCreateCheckout)
	return err
}

func (m *Machine) graphql(ctx context.Context, query string, variables map[string]any, into any) error {
	endpoint := fmt.Sprintf("/api/%s/graphql.json", m.settings.StorefrontVersion)
	resp, err := m.postJSON(ctx, endpoint, map[string]any{
		"query":     query,
		"variables": variables,
	}, map[string]string{"X-Shopify-Storefront-Access-Token": m.settings.StorefrontToken})
	if err != nil {
		if ctx.Err() != nil {
			return fail(StepStopped, ctx.Err())
		}
		return err
	}
	if resp.Status != 200 {
		return customerrors.InferHttpError(resp.Status)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphqlError  `json:"errors"`
	}
	if err := json.Unmarshal([]byte(resp.Body), &envelope); err != nil {
		return fmt.Errorf("failed to decode storefront response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("storefront error: %s", envelope.Errors[0].Message)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return errors.New("storefront response carried no data")
	}

	return json.Unmarshal(envelope.Data, into)
}

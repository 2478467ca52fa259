package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pos-terminal-bridge/internal/transport"
)

const StatusNew = "NEW"

// Order is an online order as returned by the back office. Raw is the full
// order document and becomes the receipt payload.
type Order struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	PlacedAt time.Time       `json:"placedAt"`
	Raw      json.RawMessage `json:"-"`
}

type OrderSource interface {
	FetchOrders(ctx context.Context, status string, from, to time.Time) ([]Order, error)
}

const ordersQuery = `query OnlineOrders($restaurantId: ID!, $status: OrderStatus!, $from: AWSDateTime!, $to: AWSDateTime!) {
  ordersByPlacedAt(restaurantId: $restaurantId, status: $status, placedAt: {between: [$from, $to]}) {
    items { id status placedAt number type customerName notes total products { name quantity price modifiers { name quantity price } } }
  }
}`

// GraphQLSource fetches orders from the back-office GraphQL endpoint.
type GraphQLSource struct {
	bridge       transport.Bridge
	endpoint     string
	apiKey       string
	restaurantID string
}

func NewGraphQLSource(bridge transport.Bridge, endpoint, apiKey, restaurantID string) *GraphQLSource {
	return &GraphQLSource{bridge: bridge, endpoint: strings.TrimRight(endpoint, "/"), apiKey: apiKey, restaurantID: restaurantID}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data struct {
		OrdersByPlacedAt struct {
			Items []json.RawMessage `json:"items"`
		} `json:"ordersByPlacedAt"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (s *GraphQLSource) FetchOrders(ctx context.Context, status string, from, to time.Time) ([]Order, error) {
	header := map[string]string{}
	if s.apiKey != "" {
		header["x-api-key"] = s.apiKey
	}

	var resp graphQLResponse
	err := transport.DoJSON(ctx, s.bridge, http.MethodPost, s.endpoint, header, graphQLRequest{
		Query: ordersQuery,
		Variables: map[string]any{
			"restaurantId": s.restaurantID,
			"status":       status,
			"from":         from.UTC().Format(time.RFC3339),
			"to":           to.UTC().Format(time.RFC3339),
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch online orders: %w", err)
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, errors.New("online orders query failed: " + strings.Join(msgs, "; "))
	}

	orders := make([]Order, 0, len(resp.Data.OrdersByPlacedAt.Items))
	for _, raw := range resp.Data.OrdersByPlacedAt.Items {
		var o Order
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("malformed order in response: %w", err)
		}
		o.Raw = raw
		orders = append(orders, o)
	}
	return orders, nil
}

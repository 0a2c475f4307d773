package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/tv_datafeed/internal/relay"
	"github.com/dgnsrekt/tv_datafeed/internal/types"
)

type guidInput struct {
	GUID string `path:"guid"`
}

func registerSubscriptionHandlers(api huma.API, svc Service, broker *relay.Broker) {
	type listOutput struct {
		Body struct {
			Subscriptions []types.SubscriptionInfo `json:"subscriptions"`
			Clients       int                      `json:"clients"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-subscriptions", Method: http.MethodGet, Path: "/api/v1/subscriptions", Summary: "List live bar subscriptions", Tags: []string{"Subscriptions"}},
		func(ctx context.Context, input *struct{}) (*listOutput, error) {
			out := &listOutput{}
			out.Body.Subscriptions = svc.Subscriptions()
			if out.Body.Subscriptions == nil {
				out.Body.Subscriptions = []types.SubscriptionInfo{}
			}
			out.Body.Clients = broker.ClientCount("")
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "delete-subscription", Method: http.MethodDelete, Path: "/api/v1/subscriptions/{guid}", Summary: "Close a live bar subscription", Tags: []string{"Subscriptions"}, DefaultStatus: http.StatusNoContent},
		func(ctx context.Context, input *guidInput) (*struct{}, error) {
			if err := svc.UnsubscribeBars(input.GUID); err != nil {
				return nil, mapErr(err)
			}
			publishJSON(broker, input.GUID, eventUnsubscribed, map[string]string{"guid": input.GUID})
			return nil, nil
		})
}

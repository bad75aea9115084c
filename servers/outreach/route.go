package outreach

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/MegaGrindStone/go-mcp-outreach/servers/outreach/upstream"
)

// endpoint is an upstream operation. Path parameters are written as {name} in path and are
// filled from the tool arguments of the same name.
type endpoint struct {
	method string
	path   string
	// bodyOnDelete sends the remaining arguments of a DELETE as a JSON body instead of the query.
	bodyOnDelete bool
}

// route binds a tool to its endpoint. handle replaces the plain forwarding of the arguments for
// tools that need more than one call or reshape their input.
type route struct {
	endpoint
	handle handler
}

type handler func(ctx context.Context, s *Server, ep endpoint, call toolCall) (string, error)

// Update verbs follow the upstream contract: every update endpoint is a POST.
var routes = map[string]route{
	"campaign_list":            {endpoint: endpoint{method: http.MethodGet, path: "/campaigns"}},
	"campaign_get":             {endpoint: endpoint{method: http.MethodGet, path: "/campaigns/{campaignId}"}},
	"campaign_create":          {endpoint: endpoint{method: http.MethodPost, path: "/campaigns/create"}},
	"campaign_update_status":   {endpoint: endpoint{method: http.MethodPost, path: "/campaigns/{campaignId}/status"}},
	"campaign_update_schedule": {endpoint: endpoint{method: http.MethodPost, path: "/campaigns/{campaignId}/schedule"}},
	"campaign_update_settings": {endpoint: endpoint{method: http.MethodPost, path: "/campaigns/{campaignId}/settings"}},
	"campaign_delete":          {endpoint: endpoint{method: http.MethodDelete, path: "/campaigns/{campaignId}"}},
	"campaign_sequence_get":    {endpoint: endpoint{method: http.MethodGet, path: "/campaigns/{campaignId}/sequences"}},
	"campaign_sequence_save":   {endpoint: endpoint{method: http.MethodPost, path: "/campaigns/{campaignId}/sequences"}},

	"lead_list_by_campaign": {endpoint: endpoint{method: http.MethodGet, path: "/campaigns/{campaignId}/leads"}},
	"lead_get_by_email":     {endpoint: endpoint{method: http.MethodGet, path: "/leads/"}},
	"lead_add_to_campaign": {
		endpoint: endpoint{method: http.MethodPost, path: "/campaigns/{campaignId}/leads"},
		handle:   addLeadsToCampaign,
	},
	"lead_update":      {endpoint: endpoint{method: http.MethodPost, path: "/campaigns/{campaignId}/leads/{leadId}"}},
	"lead_pause":       {endpoint: endpoint{method: http.MethodPost, path: "/campaigns/{campaignId}/leads/{leadId}/pause"}},
	"lead_resume":      {endpoint: endpoint{method: http.MethodPost, path: "/campaigns/{campaignId}/leads/{leadId}/resume"}},
	"lead_unsubscribe": {endpoint: endpoint{method: http.MethodPost, path: "/campaigns/{campaignId}/leads/{leadId}/unsubscribe"}},
	"lead_delete":      {endpoint: endpoint{method: http.MethodDelete, path: "/campaigns/{campaignId}/leads/{leadId}"}},
	"lead_add_to_blocklist": {
		endpoint: endpoint{method: http.MethodPost, path: "/leads/add-domain-block-list"},
		handle:   addToBlocklist,
	},
	"lead_export": {endpoint: endpoint{method: http.MethodGet, path: "/campaigns/{campaignId}/leads-export"}},

	"analytics_campaign_statistics": {endpoint: endpoint{method: http.MethodGet, path: "/campaigns/{campaignId}/statistics"}},
	"analytics_campaign_summary":    {endpoint: endpoint{method: http.MethodGet, path: "/campaigns/{campaignId}/analytics"}},
	"analytics_campaign_by_date":    {endpoint: endpoint{method: http.MethodGet, path: "/campaigns/{campaignId}/analytics-by-date"}},

	"webhook_list":   {endpoint: endpoint{method: http.MethodGet, path: "/campaigns/{campaignId}/webhooks"}},
	"webhook_upsert": {endpoint: endpoint{method: http.MethodPost, path: "/campaigns/{campaignId}/webhooks"}},
	"webhook_delete": {
		endpoint: endpoint{method: http.MethodDelete, path: "/campaigns/{campaignId}/webhooks", bodyOnDelete: true},
	},

	"email_account_list":            {endpoint: endpoint{method: http.MethodGet, path: "/email-accounts/"}},
	"email_account_add_to_campaign": {endpoint: endpoint{method: http.MethodPost, path: "/campaigns/{campaignId}/email-accounts"}},
}

// pathParams returns the names of the path parameters of the endpoint, in order.
func (e endpoint) pathParams() []string {
	var params []string
	rest := e.path
	for {
		start := strings.IndexByte(rest, '{')
		if start < 0 {
			return params
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			return params
		}
		params = append(params, rest[start+1:start+end])
		rest = rest[start+end+1:]
	}
}

// request builds the upstream request of a call. Path parameters are taken out of a copy of
// args, what remains becomes the query of GET and DELETE requests and the JSON body otherwise.
// args itself is never modified.
func (e endpoint) request(args map[string]any) (upstream.Request, error) {
	rest := maps.Clone(args)
	if rest == nil {
		rest = map[string]any{}
	}

	path := e.path
	for _, name := range e.pathParams() {
		value, err := pathValue(name, args[name])
		if err != nil {
			return upstream.Request{}, err
		}
		path = strings.Replace(path, "{"+name+"}", url.PathEscape(value), 1)
		delete(rest, name)
	}

	req := upstream.Request{Method: e.method, Path: path}
	if e.method == http.MethodGet || (e.method == http.MethodDelete && !e.bodyOnDelete) {
		query, err := queryValues(rest)
		if err != nil {
			return upstream.Request{}, err
		}
		req.Query = query
		return req, nil
	}

	req.Body = rest
	return req, nil
}

func pathValue(name string, v any) (string, error) {
	var value string
	switch v := v.(type) {
	case json.Number:
		value = v.String()
	case string:
		value = v
	case float64:
		value = strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		value = strconv.Itoa(v)
	default:
		return "", fmt.Errorf("%w: path parameter %q must be a string or a number, got %T", ErrInvalidArguments, name, v)
	}
	if value == "" {
		return "", fmt.Errorf("%w: path parameter %q must not be empty", ErrInvalidArguments, name)
	}
	return value, nil
}

func queryValues(args map[string]any) (url.Values, error) {
	query := url.Values{}
	for _, key := range slices.Sorted(maps.Keys(args)) {
		switch v := args[key].(type) {
		case nil:
		case []any:
			for _, item := range v {
				s, err := queryValue(key, item)
				if err != nil {
					return nil, err
				}
				query.Add(key, s)
			}
		default:
			s, err := queryValue(key, v)
			if err != nil {
				return nil, err
			}
			query.Set(key, s)
		}
	}
	return query, nil
}

func queryValue(key string, v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("%w: query parameter %q: %w", ErrInvalidArguments, key, err)
		}
		return string(b), nil
	}
}

package outreach

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/MegaGrindStone/go-mcp-outreach"
)

// leadBatchSize is the largest lead_list the upstream accepts in one call.
const leadBatchSize = 100

type addLeadsResult struct {
	Batches   int               `json:"batches"`
	Leads     int               `json:"leads"`
	Responses []json.RawMessage `json:"responses"`
}

type blocklistResult struct {
	Count    int             `json:"count"`
	Emails   []any           `json:"emails"`
	Response json.RawMessage `json:"response"`
}

// addLeadsToCampaign uploads lead_list in batches, reporting progress after every batch. A
// failed batch stops the upload; the error tells how many leads were already added.
func addLeadsToCampaign(ctx context.Context, s *Server, ep endpoint, call toolCall) (string, error) {
	leads, ok := call.args["lead_list"].([]any)
	if !ok {
		return "", fmt.Errorf("%w: lead_list must be an array", ErrInvalidArguments)
	}
	if len(leads) == 0 {
		return "", fmt.Errorf("%w: lead_list must not be empty", ErrInvalidArguments)
	}

	total := (len(leads) + leadBatchSize - 1) / leadBatchSize
	result := addLeadsResult{
		Batches:   total,
		Leads:     len(leads),
		Responses: make([]json.RawMessage, 0, total),
	}

	added := 0
	for batch := range slices.Chunk(leads, leadBatchSize) {
		args := maps.Clone(call.args)
		args["lead_list"] = batch

		req, err := ep.request(args)
		if err != nil {
			return "", err
		}

		n := len(result.Responses) + 1
		res, err := s.backend.Invoke(ctx, req)
		if err != nil {
			return "", fmt.Errorf("batch %d of %d failed, %d of %d lead(s) added: %w",
				n, total, added, len(leads), err)
		}

		resp, err := resultJSON(res)
		if err != nil {
			return "", err
		}
		result.Responses = append(result.Responses, resp)
		added += len(batch)

		s.logger.Debug("lead batch added",
			slog.String("tool", call.name),
			slog.Int("batch", n),
			slog.Int("batches", total))
		call.progress(mcp.ProgressParams{Progress: float64(n), Total: float64(total)})
	}

	return marshalText(result)
}

// addToBlocklist sends emails as the upstream domain_block_list, and echoes what was blocked.
func addToBlocklist(ctx context.Context, s *Server, ep endpoint, call toolCall) (string, error) {
	emails, ok := call.args["emails"].([]any)
	if !ok {
		return "", fmt.Errorf("%w: emails must be an array", ErrInvalidArguments)
	}
	if len(emails) == 0 {
		return "", fmt.Errorf("%w: emails must not be empty", ErrInvalidArguments)
	}

	args := maps.Clone(call.args)
	delete(args, "emails")
	args["domain_block_list"] = emails

	req, err := ep.request(args)
	if err != nil {
		return "", err
	}

	res, err := s.backend.Invoke(ctx, req)
	if err != nil {
		return "", err
	}

	resp, err := resultJSON(res)
	if err != nil {
		return "", err
	}

	return marshalText(blocklistResult{
		Count:    len(emails),
		Emails:   emails,
		Response: resp,
	})
}

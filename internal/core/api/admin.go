package api

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/gears/internal/core/db"
	"github.com/solatis/gears/internal/rules"
	"github.com/solatis/gears/internal/types"
)

// maxRunsLimit caps ListRuns.
const maxRunsLimit = 1000

// RuleInfo describes one predicate of the active table.
type RuleInfo struct {
	StoryID   int64
	Name      string
	AppURL    string
	Condition string
	Actions   int
	// Sources holds each action's code in dispatch order.
	Sources []string
}

// Reload reloads rules now and reports the result.
func (s *AdminService) Reload(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.reloader.Reload(ctx); err != nil {
		s.logger.Warn("admin reload failed", zap.Error(err))
		return nil, status.Error(codes.Unavailable, fmt.Sprintf("reload failed: %v", err))
	}

	out := map[string]any{"rules": s.tables.Table().Len()}
	if snap := s.reloader.Last(); snap != nil {
		out["stories"] = snap.Stories
		out["compiled"] = snap.Rules
		out["at"] = snap.At.UTC().Format(time.RFC3339)
	}
	return toStruct(out)
}

// ListRules returns the active table in dispatch order plus an ETag that
// changes whenever the set of rules does.
func (s *AdminService) ListRules(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	infos := Rules(s.tables.Table())

	list := make([]any, 0, len(infos))
	for _, r := range infos {
		list = append(list, map[string]any{
			"story_id":  strconv.FormatInt(r.StoryID, 10),
			"name":      r.Name,
			"app_url":   r.AppURL,
			"condition": r.Condition,
			"actions":   r.Actions,
		})
	}
	return toStruct(map[string]any{
		"etag":  computeETAG(infos),
		"rules": list,
	})
}

// ListRuns returns the newest recorded runs. The request may carry "limit",
// and "delivery_id" to list only the runs of one delivery, oldest first.
func (s *AdminService) ListRuns(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.runs == nil {
		return nil, status.Error(codes.FailedPrecondition, "run log is disabled")
	}

	limit := 50
	if v, ok := req.GetFields()["limit"]; ok {
		n := int(v.GetNumberValue())
		if n <= 0 || n > maxRunsLimit {
			return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("limit must be between 1 and %d", maxRunsLimit))
		}
		limit = n
	}

	var (
		runs []db.Run
		err  error
	)
	if v, ok := req.GetFields()["delivery_id"]; ok {
		id, perr := types.ParseDeliveryID(v.GetStringValue())
		if perr != nil {
			return nil, status.Error(codes.InvalidArgument, perr.Error())
		}
		runs, err = s.runs.ForDelivery(ctx, id, limit)
	} else {
		runs, err = s.runs.Recent(ctx, limit)
	}
	if err != nil {
		return nil, status.Error(codes.Unavailable, fmt.Sprintf("failed to query runs: %v", err))
	}

	list := make([]any, 0, len(runs))
	for _, r := range runs {
		list = append(list, map[string]any{
			"run_id":      r.RunID,
			"delivery_id": r.DeliveryID,
			"event_id":    strconv.FormatInt(r.EventID, 10),
			"entity_type": r.EntityType,
			"story_id":    strconv.FormatInt(r.StoryID, 10),
			"rule":        r.RuleName,
			"phase":       r.Phase,
			"result":      r.Result,
			"error":       r.Error,
			"started_at":  r.StartedAt.UTC().Format(time.RFC3339Nano),
			"duration_ms": r.DurationMs,
		})
	}
	return toStruct(map[string]any{"runs": list})
}

// Rules summarises t in dispatch order.
func Rules(t *rules.Table) []RuleInfo {
	preds := t.Predicates()
	out := make([]RuleInfo, 0, len(preds))
	for _, p := range preds {
		actions := t.Actions(p)
		sources := make([]string, len(actions))
		for i, a := range actions {
			sources[i] = a.Provenance.Source
		}
		out = append(out, RuleInfo{
			StoryID:   p.Provenance.StoryID,
			Name:      p.Provenance.Name,
			AppURL:    p.Provenance.AppURL,
			Condition: p.Provenance.Condition,
			Actions:   len(actions),
			Sources:   sources,
		})
	}
	return out
}

// computeETAG hashes the sorted rule identities, action code included. Same
// rules always produce the same ETag regardless of table order.
func computeETAG(infos []RuleInfo) string {
	h := sha256.New()
	var ids []string
	for _, r := range infos {
		id := fmt.Sprintf("%d\x1f%s", r.StoryID, r.Condition)
		for _, src := range r.Sources {
			id += "\x1f" + src
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return st, nil
}

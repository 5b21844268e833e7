package harness

import (
	"context"
	"fmt"

	"github.com/roach88/shufflesync/internal/domain"
	"github.com/roach88/shufflesync/internal/lists"
)

// operation calls one engine method on behalf of actor. Results that a
// step can save are domain values: *domain.Session, *domain.List,
// *domain.ListItem, *domain.Note, *domain.Participant, *domain.Collaborator.
type operation func(ctx context.Context, r *replica, actor string, args operationArgs) (any, error)

// operationArgs are resolved step arguments.
type operationArgs map[string]any

func (a operationArgs) str(key string) string {
	s, _ := a[key].(string)
	return s
}

func (a operationArgs) optional(key string) *string {
	s, ok := a[key].(string)
	if !ok {
		return nil
	}
	return &s
}

func (a operationArgs) strs(key string) []string {
	switch v := a[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			out = append(out, fmt.Sprint(e))
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}

func (a operationArgs) boolean(key string) bool {
	b, _ := a[key].(bool)
	return b
}

func (a operationArgs) integer(key string) int {
	switch v := a[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func (a operationArgs) number(key string) float64 {
	switch v := a[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	}
	return 0
}

// operations maps step names to engine calls.
var operations = map[string]operation{
	"session.create": func(ctx context.Context, r *replica, actor string, _ operationArgs) (any, error) {
		return r.sessions.Create(ctx, actor)
	},
	"session.join": func(ctx context.Context, r *replica, actor string, a operationArgs) (any, error) {
		res, err := r.sessions.Join(ctx, a.str("code"), actor)
		if err != nil {
			return nil, err
		}
		return res.Session, nil
	},
	"session.leave": func(ctx context.Context, r *replica, actor string, a operationArgs) (any, error) {
		return nil, r.sessions.Leave(ctx, a.str("session"), actor)
	},
	"session.delete": func(ctx context.Context, r *replica, actor string, a operationArgs) (any, error) {
		return nil, r.sessions.Delete(ctx, a.str("session"), actor)
	},
	"session.updateFilters": func(ctx context.Context, r *replica, actor string, a operationArgs) (any, error) {
		f := domain.Filters{
			Categories:        a.strs("categories"),
			MinRating:         a.number("min_rating"),
			MaxDistanceMeters: a.integer("max_distance_meters"),
			Source:            domain.CandidateSource(a.str("source")),
			SourceListID:      a.str("source_list_id"),
		}
		return r.sessions.UpdateFilters(ctx, a.str("session"), actor, f)
	},
	"session.setReady": func(ctx context.Context, r *replica, actor string, a operationArgs) (any, error) {
		return r.sessions.SetReady(ctx, a.str("session"), actor, a.boolean("ready"))
	},
	"session.start": func(ctx context.Context, r *replica, actor string, a operationArgs) (any, error) {
		var candidates []domain.Candidate
		for _, id := range a.strs("candidates") {
			candidates = append(candidates, domain.Candidate{ID: id, Name: id})
		}
		return r.sessions.Start(ctx, a.str("session"), actor, candidates)
	},
	"session.eliminate": func(ctx context.Context, r *replica, actor string, a operationArgs) (any, error) {
		res, err := r.sessions.Eliminate(ctx, a.str("session"), actor, a.str("candidate"))
		if err != nil {
			return nil, err
		}
		return res.Session, nil
	},
	"session.declareWinner": func(ctx context.Context, r *replica, actor string, a operationArgs) (any, error) {
		return r.sessions.DeclareWinner(ctx, a.str("session"), actor, a.str("candidate"))
	},

	"list.create": func(ctx context.Context, r *replica, actor string, a operationArgs) (any, error) {
		return r.lists.CreateList(ctx, actor, a.str("title"), a.str("description"))
	},
	"list.update": func(ctx context.Context, r *replica, actor string, a operationArgs) (any, error) {
		patch := lists.Patch{Title: a.optional("title"), Description: a.optional("description")}
		return r.lists.UpdateList(ctx, a.str("list"), actor, patch)
	},
	"list.generateShareLink": func(ctx context.Context, r *replica, actor string, a operationArgs) (any, error) {
		return r.lists.GenerateShareLink(ctx, a.str("list"), actor)
	},
	"list.revokeShareLink": func(ctx context.Context, r *replica, actor string, a operationArgs) (any, error) {
		return r.lists.RevokeShareLink(ctx, a.str("list"), actor)
	},
	"list.join": func(ctx context.Context, r *replica, actor string, a operationArgs) (any, error) {
		res, err := r.lists.JoinViaShareLink(ctx, a.str("link"), actor)
		if err != nil {
			return nil, err
		}
		return res.Collaborator, nil
	},
	"list.addItem": func(ctx context.Context, r *replica, actor string, a operationArgs) (any, error) {
		p := domain.Pointer{
			RestaurantID:     a.str("restaurant_id"),
			RestaurantSource: a.str("source"),
			Name:             a.str("name"),
			Address:          a.str("address"),
		}
		res, err := r.lists.AddItem(ctx, a.str("list"), actor, p)
		if err != nil {
			return nil, err
		}
		return res.Item, nil
	},
	"list.removeItem": func(ctx context.Context, r *replica, actor string, a operationArgs) (any, error) {
		return nil, r.lists.RemoveItem(ctx, a.str("item"), actor)
	},
	"list.addCollaborator": func(ctx context.Context, r *replica, actor string, a operationArgs) (any, error) {
		return r.lists.AddCollaborator(ctx, a.str("list"), actor, a.str("user"), domain.ListRole(a.str("role")))
	},
	"list.changeRole": func(ctx context.Context, r *replica, actor string, a operationArgs) (any, error) {
		return r.lists.ChangeRole(ctx, a.str("list"), actor, a.str("user"), domain.ListRole(a.str("role")))
	},
	"list.removeCollaborator": func(ctx context.Context, r *replica, actor string, a operationArgs) (any, error) {
		return nil, r.lists.RemoveCollaborator(ctx, a.str("list"), a.str("user"), actor)
	},
	"list.delete": func(ctx context.Context, r *replica, actor string, a operationArgs) (any, error) {
		return nil, r.lists.DeleteList(ctx, a.str("list"), actor)
	},

	"note.add": func(ctx context.Context, r *replica, actor string, a operationArgs) (any, error) {
		return r.lists.AddNote(ctx, a.str("restaurant_id"), a.str("context"), actor, a.str("text"))
	},
	"note.delete": func(ctx context.Context, r *replica, actor string, a operationArgs) (any, error) {
		return nil, r.lists.DeleteNote(ctx, a.str("note"), actor)
	},
}

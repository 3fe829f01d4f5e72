package indexdb

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"
)

// TickRow is one settled tick as stored in the index.
type TickRow struct {
	Tick           uint64  `db:"tick" json:"tick"`
	Digest         string  `db:"digest" json:"digest"`
	Commands       int     `db:"commands" json:"commands"`
	Taxes          float64 `db:"taxes" json:"taxes"`
	Costs          float64 `db:"costs" json:"costs"`
	Net            float64 `db:"net" json:"net"`
	Budget         float64 `db:"budget" json:"budget"`
	Population     int     `db:"population" json:"population"`
	Jobs           int     `db:"jobs" json:"jobs"`
	EmploymentRate float64 `db:"employment_rate" json:"employment_rate"`
	Satisfaction   float64 `db:"satisfaction" json:"satisfaction"`
	Layout         string  `db:"layout" json:"layout"`
}

type AuditRow struct {
	Tick   uint64 `db:"tick" json:"tick"`
	Seq    int    `db:"seq" json:"seq"`
	Actor  string `db:"actor" json:"actor"`
	Action string `db:"action" json:"action"`
	X      int    `db:"x" json:"x"`
	Y      int    `db:"y" json:"y"`
	From   string `db:"from_tile" json:"from"`
	To     string `db:"to_tile" json:"to"`
	Reason string `db:"reason" json:"reason,omitempty"`
}

// AuditFilter narrows Audits; zero fields match everything.
type AuditFilter struct {
	Actor     string
	SinceTick uint64
	Pos       *[2]int
	Limit     int
}

// History returns ticks in [from, to] in order; to == 0 means no upper bound.
func (s *SQLiteIndex) History(ctx context.Context, from, to uint64, limit int) ([]TickRow, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT tick, digest, commands, taxes, costs, net, budget, population, jobs, employment_rate, satisfaction, layout
		FROM ticks WHERE tick >= ?`
	args := []any{int64(from)}
	if to > 0 {
		q += ` AND tick <= ?`
		args = append(args, int64(to))
	}
	q += ` ORDER BY tick ASC LIMIT ?`
	args = append(args, limit)

	var rows []TickRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *SQLiteIndex) Audits(ctx context.Context, f AuditFilter) ([]AuditRow, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	var where []string
	args := map[string]any{"since": int64(f.SinceTick), "limit": f.Limit}
	where = append(where, "tick >= :since")
	if f.Actor != "" {
		where = append(where, "actor = :actor")
		args["actor"] = f.Actor
	}
	if f.Pos != nil {
		where = append(where, "x = :x AND y = :y")
		args["x"], args["y"] = f.Pos[0], f.Pos[1]
	}
	q := `SELECT tick, seq, actor, action, x, y, from_tile, to_tile, COALESCE(reason, '') AS reason
		FROM audits WHERE ` + strings.Join(where, " AND ") + ` ORDER BY tick ASC, seq ASC LIMIT :limit`

	q, bound, err := sqlx.Named(q, args)
	if err != nil {
		return nil, err
	}
	var rows []AuditRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), bound...); err != nil {
		return nil, err
	}
	return rows, nil
}

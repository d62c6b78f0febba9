// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pgstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/guildtools/guildsync/reconcile"
)

// Natural-key components are normalized on write with the same rules the
// identity resolvers use, so existence checks by canonical value match rows
// regardless of the casing the source store carried.

func idValue(id reconcile.CanonicalID, kind string, entity string) (string, error) {
	v, ok := reconcile.Value(id, kind)
	if !ok {
		return "", fmt.Errorf("malformed %s id %q", entity, id)
	}
	return v, nil
}

// Events is the relational repository for guild.event.
type Events struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewEvents(pool *pgxpool.Pool, logger *slog.Logger) *Events {
	return &Events{pool: pool, logger: logger}
}

func (s *Events) Enumerate(ctx context.Context, scope reconcile.CanonicalID) ([]reconcile.Event, error) {
	query := `SELECT event_id, title, game, starts_at, created_by FROM guild.event`
	args := pgx.NamedArgs{}
	if scope != "" {
		id, err := idValue(scope, "evt", "event")
		if err != nil {
			return nil, err
		}
		query += ` WHERE event_id = @event_id`
		args["event_id"] = id
	}
	rows, err := s.pool.Query(ctx, query+` ORDER BY event_id`, args)
	if err != nil {
		return nil, fmt.Errorf("enumerate guild.event: %w", err)
	}
	defer rows.Close()

	var out []reconcile.Event
	for rows.Next() {
		var e reconcile.Event
		if err := rows.Scan(&e.EventID, &e.Title, &e.Game, &e.StartsAt, &e.CreatedBy); err != nil {
			return nil, fmt.Errorf("scan guild.event: %w", err)
		}
		e.Origin = "guild.event:" + e.EventID
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Events) Exists(ctx context.Context, id reconcile.CanonicalID) (bool, error) {
	eventID, err := idValue(id, "evt", "event")
	if err != nil {
		return false, err
	}
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM guild.event WHERE event_id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check guild.event %s: %w", eventID, err)
	}
	return exists, nil
}

func (s *Events) Upsert(ctx context.Context, e reconcile.Event) error {
	eventID := reconcile.NormalizeKey(e.EventID)
	tag, err := execUpsert(ctx, s.pool, `
		INSERT INTO guild.event (event_id, title, game, starts_at, created_by)
		VALUES (@event_id, @title, @game, @starts_at, @created_by)
		ON CONFLICT (event_id) DO NOTHING`,
		pgx.NamedArgs{
			"event_id":   eventID,
			"title":      e.Title,
			"game":       e.Game,
			"starts_at":  e.StartsAt,
			"created_by": e.CreatedBy,
		})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: guild.event %s", reconcile.ErrWriteConflict, eventID)
		}
		return fmt.Errorf("insert guild.event %s: %w", eventID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: guild.event %s", reconcile.ErrWriteConflict, eventID)
	}
	return nil
}

// Registrations is the relational repository for guild.registration.
type Registrations struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewRegistrations(pool *pgxpool.Pool, logger *slog.Logger) *Registrations {
	return &Registrations{pool: pool, logger: logger}
}

func (s *Registrations) Enumerate(ctx context.Context, scope reconcile.CanonicalID) ([]reconcile.Registration, error) {
	query := `SELECT event_id, member_key, role, registered_at FROM guild.registration`
	args := pgx.NamedArgs{}
	if scope != "" {
		id, err := idValue(scope, "evt", "registration")
		if err != nil {
			return nil, err
		}
		query += ` WHERE event_id = @event_id`
		args["event_id"] = id
	}
	rows, err := s.pool.Query(ctx, query+` ORDER BY event_id, member_key`, args)
	if err != nil {
		return nil, fmt.Errorf("enumerate guild.registration: %w", err)
	}
	defer rows.Close()

	var out []reconcile.Registration
	for rows.Next() {
		var r reconcile.Registration
		if err := rows.Scan(&r.EventID, &r.MemberKey, &r.Role, &r.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan guild.registration: %w", err)
		}
		r.Origin = "guild.registration:" + r.EventID + "/" + r.MemberKey
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Registrations) Exists(ctx context.Context, id reconcile.CanonicalID) (bool, error) {
	eventID, err := idValue(id, "evt", "registration")
	if err != nil {
		return false, err
	}
	member, err := idValue(id, "reg", "registration")
	if err != nil {
		return false, err
	}
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM guild.registration WHERE event_id = $1 AND member_key = $2)`,
		eventID, member).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check guild.registration %s/%s: %w", eventID, member, err)
	}
	return exists, nil
}

func (s *Registrations) Upsert(ctx context.Context, r reconcile.Registration) error {
	eventID := reconcile.NormalizeKey(r.EventID)
	member := reconcile.NormalizeKey(r.MemberKey)
	tag, err := execUpsert(ctx, s.pool, `
		INSERT INTO guild.registration (event_id, member_key, role, registered_at)
		VALUES (@event_id, @member_key, @role, @registered_at)
		ON CONFLICT (event_id, member_key) DO NOTHING`,
		pgx.NamedArgs{
			"event_id":      eventID,
			"member_key":    member,
			"role":          r.Role,
			"registered_at": r.RegisteredAt,
		})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: guild.registration %s/%s", reconcile.ErrWriteConflict, eventID, member)
		}
		return fmt.Errorf("insert guild.registration %s/%s: %w", eventID, member, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: guild.registration %s/%s", reconcile.ErrWriteConflict, eventID, member)
	}
	return nil
}

// Presences is the relational repository for guild.presence.
type Presences struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPresences(pool *pgxpool.Pool, logger *slog.Logger) *Presences {
	return &Presences{pool: pool, logger: logger}
}

func (s *Presences) Enumerate(ctx context.Context, scope reconcile.CanonicalID) ([]reconcile.Presence, error) {
	query := `SELECT event_id, member_key, checked_in_at, minutes FROM guild.presence`
	args := pgx.NamedArgs{}
	if scope != "" {
		id, err := idValue(scope, "evt", "presence")
		if err != nil {
			return nil, err
		}
		query += ` WHERE event_id = @event_id`
		args["event_id"] = id
	}
	rows, err := s.pool.Query(ctx, query+` ORDER BY event_id, member_key`, args)
	if err != nil {
		return nil, fmt.Errorf("enumerate guild.presence: %w", err)
	}
	defer rows.Close()

	var out []reconcile.Presence
	for rows.Next() {
		var p reconcile.Presence
		if err := rows.Scan(&p.EventID, &p.MemberKey, &p.CheckedInAt, &p.Minutes); err != nil {
			return nil, fmt.Errorf("scan guild.presence: %w", err)
		}
		p.Origin = "guild.presence:" + p.EventID + "/" + p.MemberKey
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Presences) Exists(ctx context.Context, id reconcile.CanonicalID) (bool, error) {
	eventID, err := idValue(id, "evt", "presence")
	if err != nil {
		return false, err
	}
	member, err := idValue(id, "prs", "presence")
	if err != nil {
		return false, err
	}
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM guild.presence WHERE event_id = $1 AND member_key = $2)`,
		eventID, member).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check guild.presence %s/%s: %w", eventID, member, err)
	}
	return exists, nil
}

func (s *Presences) Upsert(ctx context.Context, p reconcile.Presence) error {
	eventID := reconcile.NormalizeKey(p.EventID)
	member := reconcile.NormalizeKey(p.MemberKey)
	tag, err := execUpsert(ctx, s.pool, `
		INSERT INTO guild.presence (event_id, member_key, checked_in_at, minutes)
		VALUES (@event_id, @member_key, @checked_in_at, @minutes)
		ON CONFLICT (event_id, member_key) DO NOTHING`,
		pgx.NamedArgs{
			"event_id":      eventID,
			"member_key":    member,
			"checked_in_at": p.CheckedInAt,
			"minutes":       p.Minutes,
		})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: guild.presence %s/%s", reconcile.ErrWriteConflict, eventID, member)
		}
		return fmt.Errorf("insert guild.presence %s/%s: %w", eventID, member, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: guild.presence %s/%s", reconcile.ErrWriteConflict, eventID, member)
	}
	return nil
}

// Evaluations is the relational repository for guild.monthly_evaluation.
type Evaluations struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewEvaluations(pool *pgxpool.Pool, logger *slog.Logger) *Evaluations {
	return &Evaluations{pool: pool, logger: logger}
}

func evalKeys(id reconcile.CanonicalID) (month, member string, err error) {
	if month, err = idValue(id, "eval", "monthly_evaluation"); err != nil {
		return "", "", err
	}
	if member, err = idValue(id, "mem", "monthly_evaluation"); err != nil {
		return "", "", err
	}
	return month, member, nil
}

func (s *Evaluations) Enumerate(ctx context.Context, scope reconcile.CanonicalID) ([]reconcile.MonthlyEvaluation, error) {
	query := `SELECT month, member_key, score, summary FROM guild.monthly_evaluation`
	args := pgx.NamedArgs{}
	if scope != "" {
		month, member, err := evalKeys(scope)
		if err != nil {
			return nil, err
		}
		query += ` WHERE month = @month AND member_key = @member_key`
		args["month"] = month
		args["member_key"] = member
	}
	rows, err := s.pool.Query(ctx, query+` ORDER BY month, member_key`, args)
	if err != nil {
		return nil, fmt.Errorf("enumerate guild.monthly_evaluation: %w", err)
	}
	defer rows.Close()

	var out []reconcile.MonthlyEvaluation
	for rows.Next() {
		var e reconcile.MonthlyEvaluation
		if err := rows.Scan(&e.Month, &e.MemberKey, &e.Score, &e.Summary); err != nil {
			return nil, fmt.Errorf("scan guild.monthly_evaluation: %w", err)
		}
		e.Origin = "guild.monthly_evaluation:" + e.Month + "/" + e.MemberKey
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Evaluations) Exists(ctx context.Context, id reconcile.CanonicalID) (bool, error) {
	month, member, err := evalKeys(id)
	if err != nil {
		return false, err
	}
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM guild.monthly_evaluation WHERE month = $1 AND member_key = $2)`,
		month, member).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check guild.monthly_evaluation %s/%s: %w", month, member, err)
	}
	return exists, nil
}

func (s *Evaluations) Upsert(ctx context.Context, e reconcile.MonthlyEvaluation) error {
	month := reconcile.NormalizeKey(e.Month)
	member := reconcile.NormalizeKey(e.MemberKey)
	tag, err := execUpsert(ctx, s.pool, `
		INSERT INTO guild.monthly_evaluation (month, member_key, score, summary)
		VALUES (@month, @member_key, @score, @summary)
		ON CONFLICT (month, member_key) DO NOTHING`,
		pgx.NamedArgs{
			"month":      month,
			"member_key": member,
			"score":      e.Score,
			"summary":    e.Summary,
		})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: guild.monthly_evaluation %s/%s", reconcile.ErrWriteConflict, month, member)
		}
		return fmt.Errorf("insert guild.monthly_evaluation %s/%s: %w", month, member, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: guild.monthly_evaluation %s/%s", reconcile.ErrWriteConflict, month, member)
	}
	return nil
}

// Sections is the relational repository for guild.evaluation_section.
type Sections struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewSections(pool *pgxpool.Pool, logger *slog.Logger) *Sections {
	return &Sections{pool: pool, logger: logger}
}

func (s *Sections) Enumerate(ctx context.Context, scope reconcile.CanonicalID) ([]reconcile.EvaluationSection, error) {
	query := `SELECT month, member_key, section, points, details FROM guild.evaluation_section`
	args := pgx.NamedArgs{}
	if scope != "" {
		month, member, err := evalKeys(scope)
		if err != nil {
			return nil, err
		}
		query += ` WHERE month = @month AND member_key = @member_key`
		args["month"] = month
		args["member_key"] = member
	}
	rows, err := s.pool.Query(ctx, query+` ORDER BY month, member_key, section`, args)
	if err != nil {
		return nil, fmt.Errorf("enumerate guild.evaluation_section: %w", err)
	}
	defer rows.Close()

	var out []reconcile.EvaluationSection
	for rows.Next() {
		var sec reconcile.EvaluationSection
		if err := rows.Scan(&sec.Month, &sec.MemberKey, &sec.Section, &sec.Points, &sec.Details); err != nil {
			return nil, fmt.Errorf("scan guild.evaluation_section: %w", err)
		}
		sec.Origin = "guild.evaluation_section:" + sec.Month + "/" + sec.MemberKey + "/" + sec.Section
		out = append(out, sec)
	}
	return out, rows.Err()
}

func (s *Sections) Exists(ctx context.Context, id reconcile.CanonicalID) (bool, error) {
	month, member, err := evalKeys(id)
	if err != nil {
		return false, err
	}
	section, err := idValue(id, "sec", "evaluation_section")
	if err != nil {
		return false, err
	}
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM guild.evaluation_section WHERE month = $1 AND member_key = $2 AND section = $3)`,
		month, member, section).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check guild.evaluation_section %s/%s/%s: %w", month, member, section, err)
	}
	return exists, nil
}

func (s *Sections) Upsert(ctx context.Context, sec reconcile.EvaluationSection) error {
	month := reconcile.NormalizeKey(sec.Month)
	member := reconcile.NormalizeKey(sec.MemberKey)
	section := reconcile.NormalizeKey(sec.Section)
	tag, err := execUpsert(ctx, s.pool, `
		INSERT INTO guild.evaluation_section (month, member_key, section, points, details)
		VALUES (@month, @member_key, @section, @points, @details)
		ON CONFLICT (month, member_key, section) DO NOTHING`,
		pgx.NamedArgs{
			"month":      month,
			"member_key": member,
			"section":    section,
			"points":     sec.Points,
			"details":    sec.Details,
		})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: guild.evaluation_section %s/%s/%s", reconcile.ErrWriteConflict, month, member, section)
		}
		return fmt.Errorf("insert guild.evaluation_section %s/%s/%s: %w", month, member, section, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: guild.evaluation_section %s/%s/%s", reconcile.ErrWriteConflict, month, member, section)
	}
	return nil
}

// Follows is the relational repository for guild.follow_validation.
type Follows struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewFollows(pool *pgxpool.Pool, logger *slog.Logger) *Follows {
	return &Follows{pool: pool, logger: logger}
}

func followKeys(id reconcile.CanonicalID) (member, channel string, err error) {
	v, err := idValue(id, "fv", "follow_validation")
	if err != nil {
		return "", "", err
	}
	member, channel, ok := strings.Cut(v, "@")
	if !ok {
		return "", "", fmt.Errorf("malformed follow_validation id %q", id)
	}
	return member, channel, nil
}

func (s *Follows) Enumerate(ctx context.Context, scope reconcile.CanonicalID) ([]reconcile.FollowValidation, error) {
	query := `SELECT member_key, channel, validated, validated_at FROM guild.follow_validation`
	args := pgx.NamedArgs{}
	if scope != "" {
		member, channel, err := followKeys(scope)
		if err != nil {
			return nil, err
		}
		query += ` WHERE member_key = @member_key AND channel = @channel`
		args["member_key"] = member
		args["channel"] = channel
	}
	rows, err := s.pool.Query(ctx, query+` ORDER BY member_key, channel`, args)
	if err != nil {
		return nil, fmt.Errorf("enumerate guild.follow_validation: %w", err)
	}
	defer rows.Close()

	var out []reconcile.FollowValidation
	for rows.Next() {
		var f reconcile.FollowValidation
		if err := rows.Scan(&f.MemberKey, &f.Channel, &f.Validated, &f.ValidatedAt); err != nil {
			return nil, fmt.Errorf("scan guild.follow_validation: %w", err)
		}
		f.Origin = "guild.follow_validation:" + f.MemberKey + "@" + f.Channel
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Follows) Exists(ctx context.Context, id reconcile.CanonicalID) (bool, error) {
	member, channel, err := followKeys(id)
	if err != nil {
		return false, err
	}
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM guild.follow_validation WHERE member_key = $1 AND channel = $2)`,
		member, channel).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check guild.follow_validation %s@%s: %w", member, channel, err)
	}
	return exists, nil
}

func (s *Follows) Upsert(ctx context.Context, f reconcile.FollowValidation) error {
	member := reconcile.NormalizeKey(f.MemberKey)
	channel := reconcile.NormalizeKey(f.Channel)
	tag, err := execUpsert(ctx, s.pool, `
		INSERT INTO guild.follow_validation (member_key, channel, validated, validated_at)
		VALUES (@member_key, @channel, @validated, @validated_at)
		ON CONFLICT (member_key, channel) DO NOTHING`,
		pgx.NamedArgs{
			"member_key":   member,
			"channel":      channel,
			"validated":    f.Validated,
			"validated_at": f.ValidatedAt,
		})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: guild.follow_validation %s@%s", reconcile.ErrWriteConflict, member, channel)
		}
		return fmt.Errorf("insert guild.follow_validation %s@%s: %w", member, channel, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: guild.follow_validation %s@%s", reconcile.ErrWriteConflict, member, channel)
	}
	return nil
}

// Members is the relational repository for guild.member.
type Members struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewMembers(pool *pgxpool.Pool, logger *slog.Logger) *Members {
	return &Members{pool: pool, logger: logger}
}

func (s *Members) Enumerate(ctx context.Context, scope reconcile.CanonicalID) ([]reconcile.Member, error) {
	query := `SELECT member_key, display_name, discord_id, twitch_login, joined_at FROM guild.member`
	args := pgx.NamedArgs{}
	if scope != "" {
		member, err := idValue(scope, "mem", "member")
		if err != nil {
			return nil, err
		}
		query += ` WHERE member_key = @member_key`
		args["member_key"] = member
	}
	rows, err := s.pool.Query(ctx, query+` ORDER BY member_key`, args)
	if err != nil {
		return nil, fmt.Errorf("enumerate guild.member: %w", err)
	}
	defer rows.Close()

	var out []reconcile.Member
	for rows.Next() {
		var m reconcile.Member
		if err := rows.Scan(&m.MemberKey, &m.DisplayName, &m.DiscordID, &m.TwitchLogin, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan guild.member: %w", err)
		}
		m.Origin = "guild.member:" + m.MemberKey
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Members) Exists(ctx context.Context, id reconcile.CanonicalID) (bool, error) {
	member, err := idValue(id, "mem", "member")
	if err != nil {
		return false, err
	}
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM guild.member WHERE member_key = $1)`, member).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check guild.member %s: %w", member, err)
	}
	return exists, nil
}

func (s *Members) Upsert(ctx context.Context, m reconcile.Member) error {
	member := reconcile.NormalizeKey(m.MemberKey)
	tag, err := execUpsert(ctx, s.pool, `
		INSERT INTO guild.member (member_key, display_name, discord_id, twitch_login, joined_at)
		VALUES (@member_key, @display_name, @discord_id, @twitch_login, @joined_at)
		ON CONFLICT (member_key) DO NOTHING`,
		pgx.NamedArgs{
			"member_key":   member,
			"display_name": m.DisplayName,
			"discord_id":   m.DiscordID,
			"twitch_login": m.TwitchLogin,
			"joined_at":    m.JoinedAt,
		})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: guild.member %s", reconcile.ErrWriteConflict, member)
		}
		return fmt.Errorf("insert guild.member %s: %w", member, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: guild.member %s", reconcile.ErrWriteConflict, member)
	}
	return nil
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"daily-quiz-composer/internal/domain"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const uniqueViolation = "23505"

// Store implements app.Store on Postgres. Writes that must be atomic run in
// a single transaction.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// questionContent is the JSONB column holding the type-specific parts of a question.
type questionContent struct {
	Prompt  json.RawMessage   `json:"prompt"`
	Choices []domain.Choice   `json:"choices,omitempty"`
	Targets []domain.Choice   `json:"targets,omitempty"`
	Answer  domain.AnswerKey  `json:"answer"`
	Media   []domain.MediaRef `json:"media,omitempty"`
}

// UpsertQuestions imports questions into the pool.
func (s *Store) UpsertQuestions(ctx context.Context, questions []domain.Question) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, q := range questions {
		content, err := json.Marshal(questionContent{
			Prompt: q.Prompt, Choices: q.Choices, Targets: q.Targets, Answer: q.Answer, Media: q.Media,
		})
		if err != nil {
			return fmt.Errorf("encode question %s: %w", q.ID, err)
		}
		createdAt := q.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO questions (id, type, difficulty, themes, subjects, status, content, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				type = EXCLUDED.type, difficulty = EXCLUDED.difficulty, themes = EXCLUDED.themes,
				subjects = EXCLUDED.subjects, status = EXCLUDED.status, content = EXCLUDED.content`,
			q.ID, string(q.Type), string(q.Difficulty), nonNil(q.Themes), nonNil(q.Subjects), string(q.Status), content, createdAt)
		if err != nil {
			return fmt.Errorf("upsert question %s: %w", q.ID, err)
		}
	}
	return tx.Commit(ctx)
}

const questionColumns = `id, type, difficulty, themes, subjects, status, content, created_at`

func (s *Store) ListQuestions(ctx context.Context) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+questionColumns+` FROM questions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()
	var out []domain.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *Store) GetQuestions(ctx context.Context, ids []string) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get questions: %w", err)
	}
	defer rows.Close()
	byID := make(map[string]domain.Question, len(ids))
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		byID[q.ID] = q
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]domain.Question, 0, len(ids))
	for _, id := range ids {
		q, ok := byID[id]
		if !ok {
			return nil, domain.ErrQuestionNotFound
		}
		out = append(out, q)
	}
	return out, nil
}

func scanQuestion(row pgx.Row) (domain.Question, error) {
	var (
		q                         domain.Question
		qType, difficulty, status string
		raw                       []byte
	)
	if err := row.Scan(&q.ID, &qType, &difficulty, &q.Themes, &q.Subjects, &status, &raw, &q.CreatedAt); err != nil {
		return domain.Question{}, fmt.Errorf("scan question: %w", err)
	}
	var content questionContent
	if err := json.Unmarshal(raw, &content); err != nil {
		return domain.Question{}, fmt.Errorf("decode question %s: %w", q.ID, err)
	}
	q.Type = domain.QuestionType(qType)
	q.Difficulty = domain.Difficulty(difficulty)
	q.Status = domain.QuestionStatus(status)
	q.Prompt = content.Prompt
	q.Choices = content.Choices
	q.Targets = content.Targets
	q.Answer = content.Answer
	q.Media = content.Media
	return q, nil
}

func (s *Store) Exposures(ctx context.Context) (map[string]domain.ExposureRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT question_id, times_used, last_used_at FROM question_exposures`)
	if err != nil {
		return nil, fmt.Errorf("list exposures: %w", err)
	}
	defer rows.Close()
	out := make(map[string]domain.ExposureRecord)
	for rows.Next() {
		var rec domain.ExposureRecord
		if err := rows.Scan(&rec.QuestionID, &rec.TimesUsed, &rec.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scan exposure: %w", err)
		}
		out[rec.QuestionID] = rec
	}
	return out, rows.Err()
}

func (s *Store) QuestionsScheduledBetween(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT unnest(question_ids) FROM daily_quizzes
		WHERE drop_at >= $1 AND drop_at < $2`, from, to)
	if err != nil {
		return nil, fmt.Errorf("scheduled questions: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) CreateComposition(ctx context.Context, quiz domain.DailyQuiz, tmpl domain.Template) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO daily_quizzes (id, drop_at, mode, question_ids, template_url, template_version, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		quiz.ID, quiz.DropAt, string(quiz.Mode), quiz.QuestionIDs, quiz.TemplateURL, quiz.TemplateVersion,
		string(quiz.Status), quiz.CreatedAt, quiz.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDropTimeTaken
		}
		return fmt.Errorf("insert daily quiz: %w", err)
	}
	if err := insertTemplate(ctx, tx, tmpl); err != nil {
		return err
	}
	if err := expose(ctx, tx, quiz.QuestionIDs, quiz.DropAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const quizColumns = `id, drop_at, mode, question_ids, template_url, template_version, status, created_at, updated_at`

func scanQuiz(row pgx.Row) (domain.DailyQuiz, error) {
	var (
		q            domain.DailyQuiz
		mode, status string
	)
	err := row.Scan(&q.ID, &q.DropAt, &mode, &q.QuestionIDs, &q.TemplateURL, &q.TemplateVersion, &status, &q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DailyQuiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.DailyQuiz{}, fmt.Errorf("scan daily quiz: %w", err)
	}
	q.DropAt = q.DropAt.UTC()
	q.Mode = domain.Mode(mode)
	q.Status = domain.QuizStatus(status)
	return q, nil
}

func (s *Store) GetQuiz(ctx context.Context, id string) (domain.DailyQuiz, error) {
	return scanQuiz(s.pool.QueryRow(ctx, `SELECT `+quizColumns+` FROM daily_quizzes WHERE id = $1`, id))
}

func (s *Store) GetQuizByDropTime(ctx context.Context, dropAt time.Time) (domain.DailyQuiz, error) {
	return scanQuiz(s.pool.QueryRow(ctx, `SELECT `+quizColumns+` FROM daily_quizzes WHERE drop_at = $1`, dropAt))
}

func (s *Store) UpdateQuiz(ctx context.Context, id string, mutate func(*domain.DailyQuiz) (domain.QuizChange, error)) (domain.DailyQuiz, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.DailyQuiz{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	current, err := scanQuiz(tx.QueryRow(ctx, `SELECT `+quizColumns+` FROM daily_quizzes WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return domain.DailyQuiz{}, err
	}
	if current.Status == domain.QuizDropped {
		return domain.DailyQuiz{}, domain.ErrQuizDropped
	}

	next := current
	next.QuestionIDs = append([]string(nil), current.QuestionIDs...)
	change, err := mutate(&next)
	if err != nil {
		return domain.DailyQuiz{}, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE daily_quizzes SET drop_at = $2, question_ids = $3, template_url = $4, template_version = $5,
			status = $6, updated_at = $7
		WHERE id = $1`,
		id, next.DropAt, next.QuestionIDs, next.TemplateURL, next.TemplateVersion, string(next.Status), next.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.DailyQuiz{}, domain.ErrDropTimeTaken
		}
		return domain.DailyQuiz{}, fmt.Errorf("update daily quiz: %w", err)
	}
	if change.Template != nil {
		if err := insertTemplate(ctx, tx, *change.Template); err != nil {
			return domain.DailyQuiz{}, err
		}
	}
	if err := release(ctx, tx, change.Released); err != nil {
		return domain.DailyQuiz{}, err
	}
	if err := expose(ctx, tx, change.Exposed, next.DropAt); err != nil {
		return domain.DailyQuiz{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.DailyQuiz{}, fmt.Errorf("commit: %w", err)
	}
	next.ID = id
	return next, nil
}

func (s *Store) DeleteQuiz(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	current, err := scanQuiz(tx.QueryRow(ctx, `SELECT `+quizColumns+` FROM daily_quizzes WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return err
	}
	if current.Status == domain.QuizDropped {
		return domain.ErrQuizDropped
	}
	if err := release(ctx, tx, current.QuestionIDs); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM daily_quizzes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete daily quiz: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) LatestTemplate(ctx context.Context, quizID string) (domain.Template, error) {
	var (
		tmpl    domain.Template
		digests []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT quiz_id, version, url, payload, content_hash, content_size, answer_digests, created_at
		FROM quiz_templates WHERE quiz_id = $1 ORDER BY version DESC LIMIT 1`, quizID).
		Scan(&tmpl.QuizID, &tmpl.Version, &tmpl.URL, &tmpl.Payload, &tmpl.ContentHash, &tmpl.ContentSize, &digests, &tmpl.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Template{}, domain.ErrTemplateNotFound
	}
	if err != nil {
		return domain.Template{}, fmt.Errorf("latest template: %w", err)
	}
	if err := json.Unmarshal(digests, &tmpl.AnswerDigests); err != nil {
		return domain.Template{}, fmt.Errorf("decode answer digests: %w", err)
	}
	return tmpl, nil
}

func insertTemplate(ctx context.Context, tx pgx.Tx, tmpl domain.Template) error {
	digests, err := json.Marshal(tmpl.AnswerDigests)
	if err != nil {
		return fmt.Errorf("encode answer digests: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO quiz_templates (quiz_id, version, url, payload, content_hash, content_size, answer_digests, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tmpl.QuizID, tmpl.Version, tmpl.URL, tmpl.Payload, tmpl.ContentHash, tmpl.ContentSize, digests, tmpl.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.Error{Kind: domain.KindConflict, Message: "template version already exists"}
		}
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// expose increments exposure counters in place so concurrent compositions
// never lose an update.
func expose(ctx context.Context, tx pgx.Tx, ids []string, at time.Time) error {
	for _, id := range ids {
		_, err := tx.Exec(ctx, `
			INSERT INTO question_exposures (question_id, times_used, last_used_at)
			VALUES ($1, 1, $2)
			ON CONFLICT (question_id) DO UPDATE SET
				times_used = question_exposures.times_used + 1,
				last_used_at = GREATEST(question_exposures.last_used_at, EXCLUDED.last_used_at)`,
			id, at)
		if err != nil {
			return fmt.Errorf("increment exposure %s: %w", id, err)
		}
	}
	return nil
}

func release(ctx context.Context, tx pgx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE question_exposures SET times_used = times_used - 1
		WHERE question_id = ANY($1) AND times_used > 0`, ids)
	if err != nil {
		return fmt.Errorf("release exposures: %w", err)
	}
	return nil
}

func (s *Store) AppendLog(ctx context.Context, entry domain.CompositionLog) error {
	themes, err := json.Marshal(entry.ThemeDistribution)
	if err != nil {
		return err
	}
	target, err := json.Marshal(entry.DifficultyTarget)
	if err != nil {
		return err
	}
	actual, err := json.Marshal(entry.DifficultyActual)
	if err != nil {
		return err
	}
	var dropAt *time.Time
	if !entry.DropAt.IsZero() {
		dropAt = &entry.DropAt
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO composition_logs (id, drop_at, mode, success, error_kind, error_message, quiz_id, question_ids,
			theme_distribution, difficulty_target, difficulty_actual, relaxation_level, warnings, eligible_pool,
			average_exposure, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		entry.ID, dropAt, string(entry.Mode), entry.Success, string(entry.ErrorKind), entry.ErrorMessage, entry.QuizID,
		nonNil(entry.QuestionIDs), themes, target, actual, entry.RelaxationLevel, nonNil(entry.Warnings),
		entry.EligiblePool, entry.AverageExposure, entry.DurationMs, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append composition log: %w", err)
	}
	return nil
}

func (s *Store) RecentLogs(ctx context.Context, limit, offset int) ([]domain.CompositionLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, drop_at, mode, success, error_kind, error_message, quiz_id, question_ids, theme_distribution,
			difficulty_target, difficulty_actual, relaxation_level, warnings, eligible_pool, average_exposure,
			duration_ms, created_at
		FROM composition_logs ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("recent composition logs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.CompositionLog, 0, limit)
	for rows.Next() {
		var (
			entry                  domain.CompositionLog
			dropAt                 *time.Time
			mode, kind             string
			themes, target, actual []byte
		)
		if err := rows.Scan(&entry.ID, &dropAt, &mode, &entry.Success, &kind, &entry.ErrorMessage, &entry.QuizID,
			&entry.QuestionIDs, &themes, &target, &actual, &entry.RelaxationLevel, &entry.Warnings,
			&entry.EligiblePool, &entry.AverageExposure, &entry.DurationMs, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan composition log: %w", err)
		}
		if dropAt != nil {
			entry.DropAt = dropAt.UTC()
		}
		entry.Mode = domain.Mode(mode)
		entry.ErrorKind = domain.ErrorKind(kind)
		if err := decodeCounts(themes, &entry.ThemeDistribution); err != nil {
			return nil, err
		}
		if err := decodeCounts(target, &entry.DifficultyTarget); err != nil {
			return nil, err
		}
		if err := decodeCounts(actual, &entry.DifficultyActual); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func decodeCounts[K comparable](raw []byte, dst *map[K]int) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode counts: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

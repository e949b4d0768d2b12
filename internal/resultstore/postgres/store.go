// Package postgres provides a durable, PostgreSQL-backed store for
// per-utterance recognition results: the N-best sentence list, each word's
// timing/score/confidence, and the utterance's final status. It is the
// "session log" analogue spec.md itself has no use for (the core never reads
// its own history back) but that every deployment wants for offline scoring,
// debugging, and analytics — the durable counterpart to the in-process
// engine.Result a caller already gets back synchronously.
//
// This layer is optional: engine.Session.Finalize works entirely without it.
// A caller wires Store.WriteResult in only when internal/config's
// ResultStoreConfig.PostgresDSN is set.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kurenai-lab/lvcsr/pkg/types"
)

const ddl = `
CREATE TABLE IF NOT EXISTS utterances (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    status      TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_utterances_session_id ON utterances (session_id);

CREATE TABLE IF NOT EXISTS sentences (
    id           BIGSERIAL    PRIMARY KEY,
    utterance_id BIGINT       NOT NULL REFERENCES utterances(id) ON DELETE CASCADE,
    rank         INT          NOT NULL,
    total_score  DOUBLE PRECISION NOT NULL,
    status       TEXT         NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sentences_utterance_id ON sentences (utterance_id);

CREATE TABLE IF NOT EXISTS words (
    id            BIGSERIAL    PRIMARY KEY,
    sentence_id   BIGINT       NOT NULL REFERENCES sentences(id) ON DELETE CASCADE,
    position      INT          NOT NULL,
    word_id       INT          NOT NULL,
    surface       TEXT         NOT NULL,
    begin_frame   INT          NOT NULL,
    end_frame     INT          NOT NULL,
    am_score      DOUBLE PRECISION NOT NULL,
    lm_score      DOUBLE PRECISION NOT NULL,
    confidence    DOUBLE PRECISION NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_words_sentence_id ON words (sentence_id);
`

// Store is a durable per-utterance result log keyed by an arbitrary caller-
// supplied session id (one stream, one speaker, one connection — whatever
// the caller's notion of "session" is; the engine itself has none). All
// methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore opens a connection pool to dsn and ensures the utterances/
// sentences/words tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("resultstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("resultstore: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("resultstore: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// WriteResult persists one finalized utterance's status and N-best sentence
// list under sessionID. A rejected or search-failed utterance is still
// recorded (with an empty sentence list) so offline analysis can compute
// reject/fallback rates per session.
func (s *Store) WriteResult(ctx context.Context, sessionID string, status types.Status, sentences []types.Sentence) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("resultstore: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var utteranceID int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO utterances (session_id, status) VALUES ($1, $2) RETURNING id`,
		sessionID, status.String(),
	).Scan(&utteranceID); err != nil {
		return fmt.Errorf("resultstore: insert utterance: %w", err)
	}

	for rank, sent := range sentences {
		var sentenceID int64
		if err := tx.QueryRow(ctx,
			`INSERT INTO sentences (utterance_id, rank, total_score, status) VALUES ($1, $2, $3, $4) RETURNING id`,
			utteranceID, rank, sent.TotalScore, sent.Status.String(),
		).Scan(&sentenceID); err != nil {
			return fmt.Errorf("resultstore: insert sentence %d: %w", rank, err)
		}
		for pos, w := range sent.Words {
			if _, err := tx.Exec(ctx,
				`INSERT INTO words (sentence_id, position, word_id, surface, begin_frame, end_frame, am_score, lm_score, confidence)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				sentenceID, pos, int32(w.Word), w.Surface, w.BeginFrame, w.EndFrame, w.AMScore, w.LMScore, w.Confidence,
			); err != nil {
				return fmt.Errorf("resultstore: insert word %d: %w", pos, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("resultstore: commit: %w", err)
	}
	return nil
}

// RecentSentences returns the score and status of the top sentence (rank 0)
// of the last limit utterances recorded under sessionID, most recent first.
// Each returned Sentence carries only TotalScore and the utterance's Status;
// Words is left empty.
func (s *Store) RecentSentences(ctx context.Context, sessionID string, limit int) ([]types.Sentence, error) {
	const q = `
		SELECT s.total_score, s.status, u.status
		FROM   sentences s
		JOIN   utterances u ON u.id = s.utterance_id
		WHERE  u.session_id = $1 AND s.rank = 0
		ORDER  BY u.created_at DESC
		LIMIT  $2`
	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("resultstore: recent sentences: %w", err)
	}
	defer rows.Close()

	var out []types.Sentence
	for rows.Next() {
		var totalScore float64
		var sentStatus, uttStatus string
		if err := rows.Scan(&totalScore, &sentStatus, &uttStatus); err != nil {
			return nil, fmt.Errorf("resultstore: scan: %w", err)
		}
		out = append(out, types.Sentence{TotalScore: totalScore, Status: statusFromString(uttStatus)})
	}
	return out, rows.Err()
}

func statusFromString(s string) types.Status {
	switch s {
	case "SUCCESS":
		return types.StatusSuccess
	case "FALLBACK":
		return types.StatusFallback
	case "SEARCH_FAIL":
		return types.StatusSearchFail
	case "REJECT_SHORT":
		return types.StatusRejectShort
	case "REJECT_LONG":
		return types.StatusRejectLong
	case "REJECT_SILENCE":
		return types.StatusRejectSilence
	case "REJECT_POWER":
		return types.StatusRejectPower
	case "REJECT_GMM":
		return types.StatusRejectGMM
	default:
		return types.StatusSearchFail
	}
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"geovar/internal/domain/models"
	"geovar/internal/domain/repository"
	pkgch "geovar/pkg/clickhouse"
	applogger "geovar/pkg/logger"
)

// VaRTable and BacktestTable are the reporting tables the store owns.
const (
	VaRTable      = "geovar.var_estimates"
	BacktestTable = "geovar.backtests"
)

// ClickHouseResultStore implements ResultStore backed by ClickHouse.
type ClickHouseResultStore struct {
	ch    *pkgch.Client
	db    *sql.DB
	chunk int
	l     *applogger.Logger
}

func NewClickHouseResultStore(ch *pkgch.Client) repository.ResultStore {
	return &ClickHouseResultStore{ch: ch, db: ch.DB(), chunk: 2000}
}

// SetLogger injects a structured logger.
func (s *ClickHouseResultStore) SetLogger(l *applogger.Logger) { s.l = l }

// SetBatchSize overrides the VaR insert chunk size.
func (s *ClickHouseResultStore) SetBatchSize(n int) {
	if n > 0 {
		s.chunk = n
	}
}

// Init creates the database and reporting tables if they do not exist.
func (s *ClickHouseResultStore) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, schemaStatements())
}

// schemaStatements is the idempotent DDL for the tables this store owns.
// Column layout matches the INSERT statements below.
func schemaStatements() []string {
	return []string{
		"CREATE DATABASE IF NOT EXISTS geovar",
		`CREATE TABLE IF NOT EXISTS ` + VaRTable + ` (
            symbol String, ts DateTime, confidence Float64, var Float64, es Float64,
            regime String, run_at DateTime
        ) ENGINE=MergeTree ORDER BY (symbol, ts)`,
		`CREATE TABLE IF NOT EXISTS ` + BacktestTable + ` (
            symbol String, model String, run_at DateTime,
            observations UInt32, violations UInt32, violation_rate Float64, expected_rate Float64,
            kupiec_stat Float64, kupiec_p Float64, kupiec_decision String,
            christoffersen_stat Float64, christoffersen_p Float64, christoffersen_decision String,
            joint_stat Float64, joint_p Float64, joint_decision String,
            mean_excess Float64, max_excess Float64, max_drawdown Float64
        ) ENGINE=MergeTree ORDER BY (symbol, run_at)`,
	}
}

func (s *ClickHouseResultStore) StoreVaRSeries(ctx context.Context, result *models.AnalysisResult) error {
	if result.VaR == nil || len(result.VaR.Estimates) == 0 {
		return nil
	}
	start := time.Now()

	// Chunked multi-row VALUES insert to keep round-trips down.
	ests := result.VaR.Estimates
	for lo := 0; lo < len(ests); lo += s.chunk {
		hi := lo + s.chunk
		if hi > len(ests) {
			hi = len(ests)
		}
		values := make([]string, 0, hi-lo)
		args := make([]interface{}, 0, (hi-lo)*7)
		for i, e := range ests[lo:hi] {
			regime := ""
			if idx := lo + i; idx < len(result.Filtered) {
				regime = result.Filtered[idx].MostLikely().String()
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				result.Symbol,
				e.Timestamp,
				e.Confidence,
				e.Value,
				e.ES,
				regime,
				result.RunAt,
			)
		}
		q := fmt.Sprintf("INSERT INTO %s (symbol, ts, confidence, var, es, regime, run_at) VALUES %s", VaRTable, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			if s.l != nil {
				s.l.Error("clickhouse store_var insert error",
					applogger.String("symbol", result.Symbol),
					applogger.Error(err),
				)
			}
			return fmt.Errorf("store var series: %w", err)
		}
	}

	if s.l != nil {
		s.l.Info("clickhouse store_var ok",
			applogger.String("symbol", result.Symbol),
			applogger.Int("rows", len(ests)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return nil
}

func (s *ClickHouseResultStore) StoreBacktest(ctx context.Context, symbol string, suite *models.BacktestSuite) error {
	q := fmt.Sprintf(`INSERT INTO %s
        (symbol, model, run_at, observations, violations, violation_rate, expected_rate,
         kupiec_stat, kupiec_p, kupiec_decision,
         christoffersen_stat, christoffersen_p, christoffersen_decision,
         joint_stat, joint_p, joint_decision,
         mean_excess, max_excess, max_drawdown)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, BacktestTable)
	_, err := s.db.ExecContext(ctx, q,
		symbol,
		suite.Model,
		time.Now().UTC(),
		uint32(suite.Observations),
		uint32(suite.Violations),
		suite.ViolationRate,
		suite.ExpectedRate,
		suite.Kupiec.Statistic, suite.Kupiec.PValue, string(suite.Kupiec.Decision),
		suite.Christoffersen.Statistic, suite.Christoffersen.PValue, string(suite.Christoffersen.Decision),
		suite.Joint.Statistic, suite.Joint.PValue, string(suite.Joint.Decision),
		suite.MeanExcess,
		suite.MaxExcess,
		suite.MaxDrawdown,
	)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse store_backtest insert error",
				applogger.String("symbol", symbol),
				applogger.String("model", suite.Model),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("store backtest: %w", err)
	}
	return nil
}

func (s *ClickHouseResultStore) QueryVaRSeries(ctx context.Context, symbol string, limit int) ([]models.VaREstimate, error) {
	q := fmt.Sprintf(`
        SELECT ts, confidence, var, es
        FROM %s
        WHERE symbol = ?
        ORDER BY ts DESC
        LIMIT ?
    `, VaRTable)
	rows, err := s.db.QueryContext(ctx, q, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query var series: %w", err)
	}
	defer rows.Close()

	tmp := make([]models.VaREstimate, 0, limit)
	for rows.Next() {
		var e models.VaREstimate
		if err := rows.Scan(&e.Timestamp, &e.Confidence, &e.Value, &e.ES); err != nil {
			return nil, fmt.Errorf("scan estimate: %w", err)
		}
		tmp = append(tmp, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	// reverse to ASC
	for i, j := 0, len(tmp)-1; i < j; i, j = i+1, j-1 {
		tmp[i], tmp[j] = tmp[j], tmp[i]
	}
	return tmp, nil
}

func (s *ClickHouseResultStore) QueryBacktests(ctx context.Context, symbol string) ([]models.BacktestSuite, error) {
	q := fmt.Sprintf(`
        SELECT model, observations, violations, violation_rate, expected_rate,
               kupiec_stat, kupiec_p, kupiec_decision,
               christoffersen_stat, christoffersen_p, christoffersen_decision,
               joint_stat, joint_p, joint_decision,
               mean_excess, max_excess, max_drawdown
        FROM %s
        WHERE symbol = ?
        ORDER BY run_at DESC
        LIMIT 20
    `, BacktestTable)
	rows, err := s.db.QueryContext(ctx, q, symbol)
	if err != nil {
		return nil, fmt.Errorf("query backtests: %w", err)
	}
	defer rows.Close()

	var out []models.BacktestSuite
	for rows.Next() {
		var b models.BacktestSuite
		var obs, vio uint32
		var kd, cd, jd string
		if err := rows.Scan(
			&b.Model, &obs, &vio, &b.ViolationRate, &b.ExpectedRate,
			&b.Kupiec.Statistic, &b.Kupiec.PValue, &kd,
			&b.Christoffersen.Statistic, &b.Christoffersen.PValue, &cd,
			&b.Joint.Statistic, &b.Joint.PValue, &jd,
			&b.MeanExcess, &b.MaxExcess, &b.MaxDrawdown,
		); err != nil {
			return nil, fmt.Errorf("scan backtest: %w", err)
		}
		b.Observations = int(obs)
		b.Violations = int(vio)
		b.Kupiec.Name, b.Kupiec.Decision = "kupiec", models.BacktestDecision(kd)
		b.Christoffersen.Name, b.Christoffersen.Decision = "christoffersen", models.BacktestDecision(cd)
		b.Joint.Name, b.Joint.Decision = "joint", models.BacktestDecision(jd)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *ClickHouseResultStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseResultStore) Close() error {
	return nil // Managed by pkg
}

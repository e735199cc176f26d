// Package pgsetup creates and verifies the keystage state objects in a
// Postgres database, and enrolls individual tables under change tracking.
package pgsetup

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/keystage/keystage/pkg/consts/pgconsts"
)

var (
	ErrInvalidCredentials = fmt.Errorf("ERR_KS_101: Could not authenticate against the database with the given admin credentials.")
	ErrCannotCommunicate  = fmt.Errorf("ERR_KS_102: Could not reach the database with the given admin credentials.")
	ErrStateNotSetUp      = fmt.Errorf("ERR_KS_103: The keystage state tables do not exist in your database.  Run setup before staging changes.")
)

// StepResult records the outcome of a single setup or check step.
type StepResult struct {
	Complete bool  `json:"complete"`
	Error    error `json:"error,omitempty"`
}

// StateResult reports the state of every keystage object after a Setup or
// Check pass.
type StateResult struct {
	SchemaCreated     StepResult
	SequenceCreated   StepResult
	RegistryCreated   StepResult
	JournalCreated    StepResult
	WatermarksCreated StepResult
	StagingCreated    StepResult
}

func (r StateResult) Steps() []string {
	return []string{
		"schema_created",
		"version_sequence_created",
		"registry_created",
		"change_journal_created",
		"watermarks_created",
		"staging_created",
	}
}

func (r StateResult) Results() map[string]StepResult {
	return map[string]StepResult{
		"schema_created":           r.SchemaCreated,
		"version_sequence_created": r.SequenceCreated,
		"registry_created":         r.RegistryCreated,
		"change_journal_created":   r.JournalCreated,
		"watermarks_created":       r.WatermarksCreated,
		"staging_created":          r.StagingCreated,
	}
}

type SetupOpts struct {
	// AdminConfig are credentials allowed to create schemas, tables and
	// triggers.
	AdminConfig pgx.ConnConfig
}

// Setup creates any missing keystage state objects.
func Setup(ctx context.Context, opts SetupOpts) (StateResult, error) {
	conn, err := connect(ctx, opts)
	if err != nil {
		return StateResult{}, err
	}
	defer conn.Close(ctx)

	s := setup{opts: opts, c: conn}
	return s.Setup(ctx)
}

// Check verifies that every keystage state object exists without creating
// anything.
func Check(ctx context.Context, opts SetupOpts) (StateResult, error) {
	conn, err := connect(ctx, opts)
	if err != nil {
		return StateResult{}, err
	}
	defer conn.Close(ctx)

	s := setup{opts: opts, c: conn}
	return s.Check(ctx)
}

// Teardown drops the keystage schema and everything in it, including the
// journaling trigger functions; dependent triggers on tracked user tables are
// removed by the cascade.
func Teardown(ctx context.Context, opts SetupOpts) error {
	conn, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, fmt.Sprintf(`DROP SCHEMA IF EXISTS %s CASCADE`, pgconsts.Schema)); err != nil {
		return fmt.Errorf("Error dropping schema '%s': %w", pgconsts.Schema, err)
	}
	return nil
}

func connect(ctx context.Context, opts SetupOpts) (*pgx.Conn, error) {
	conn, err := pgx.ConnectConfig(ctx, &opts.AdminConfig)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, ErrCannotCommunicate
	}
	return conn, nil
}

type setup struct {
	opts SetupOpts
	c    *pgx.Conn

	res StateResult
}

func (s *setup) Check(ctx context.Context) (StateResult, error) {
	chain := []func(ctx context.Context) error{
		s.checkSchema,
		s.checkSequence,
		s.checkRegistry,
		s.checkJournal,
		s.checkWatermarks,
		s.checkStaging,
	}
	for _, f := range chain {
		if err := f(ctx); err != nil {
			// Short circuit and return the state result and first error.
			return s.res, err
		}
	}
	return s.res, nil
}

func (s *setup) Setup(ctx context.Context) (StateResult, error) {
	chain := []func(ctx context.Context) error{
		s.createSchema,
		s.createSequence,
		s.createRegistry,
		s.createJournal,
		s.createWatermarks,
		s.createStaging,
	}
	for _, f := range chain {
		if err := f(ctx); err != nil {
			return s.res, err
		}
	}
	return s.res, nil
}

func (s *setup) checkSchema(ctx context.Context) error {
	err := s.exists(ctx, `SELECT 1 FROM pg_namespace WHERE nspname = $1`, pgconsts.Schema)
	if err != nil {
		s.res.SchemaCreated.Error = ErrStateNotSetUp
		return s.res.SchemaCreated.Error
	}
	s.res.SchemaCreated.Complete = true
	return nil
}

func (s *setup) createSchema(ctx context.Context) error {
	if err := s.checkSchema(ctx); err == nil {
		return nil
	}
	if _, err := s.c.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA %s`, pgconsts.Schema)); err != nil {
		s.res.SchemaCreated.Error = fmt.Errorf("Error creating schema '%s': %w", pgconsts.Schema, err)
		return s.res.SchemaCreated.Error
	}
	s.res.SchemaCreated = StepResult{Complete: true}
	return nil
}

func (s *setup) checkSequence(ctx context.Context) error {
	err := s.exists(ctx, `SELECT 1 WHERE to_regclass($1) IS NOT NULL`, pgconsts.VersionSequence)
	if err != nil {
		s.res.SequenceCreated.Error = ErrStateNotSetUp
		return s.res.SequenceCreated.Error
	}
	s.res.SequenceCreated.Complete = true
	return nil
}

func (s *setup) createSequence(ctx context.Context) error {
	if err := s.checkSequence(ctx); err == nil {
		return nil
	}
	if _, err := s.c.Exec(ctx, fmt.Sprintf(`CREATE SEQUENCE %s START WITH 1`, pgconsts.VersionSequence)); err != nil {
		s.res.SequenceCreated.Error = fmt.Errorf("Error creating version sequence: %w", err)
		return s.res.SequenceCreated.Error
	}
	s.res.SequenceCreated = StepResult{Complete: true}
	return nil
}

func (s *setup) checkRegistry(ctx context.Context) error {
	err := s.exists(ctx, `SELECT 1 WHERE to_regclass($1) IS NOT NULL`, pgconsts.RegistryTable)
	if err != nil {
		s.res.RegistryCreated.Error = ErrStateNotSetUp
		return s.res.RegistryCreated.Error
	}
	s.res.RegistryCreated.Complete = true
	return nil
}

func (s *setup) createRegistry(ctx context.Context) error {
	if err := s.checkRegistry(ctx); err == nil {
		return nil
	}
	stmt := fmt.Sprintf(`
		CREATE TABLE %s (
		  schema_name text NOT NULL,
		  table_name text NOT NULL,
		  retain_floor bigint NOT NULL DEFAULT 0,
		  tracked_at timestamptz NOT NULL DEFAULT now(),
		  PRIMARY KEY (schema_name, table_name)
		)`, pgconsts.RegistryTable)
	if _, err := s.c.Exec(ctx, stmt); err != nil {
		s.res.RegistryCreated.Error = fmt.Errorf("Error creating registry table: %w", err)
		return s.res.RegistryCreated.Error
	}
	s.res.RegistryCreated = StepResult{Complete: true}
	return nil
}

func (s *setup) checkJournal(ctx context.Context) error {
	err := s.exists(ctx, `SELECT 1 WHERE to_regclass($1) IS NOT NULL`, pgconsts.JournalTable)
	if err != nil {
		s.res.JournalCreated.Error = ErrStateNotSetUp
		return s.res.JournalCreated.Error
	}
	s.res.JournalCreated.Complete = true
	return nil
}

func (s *setup) createJournal(ctx context.Context) error {
	if err := s.checkJournal(ctx); err == nil {
		return nil
	}
	stmt := fmt.Sprintf(`
		CREATE TABLE %s (
		  version bigint NOT NULL,
		  schema_name text NOT NULL,
		  table_name text NOT NULL,
		  key jsonb NOT NULL,
		  changed_at timestamptz NOT NULL DEFAULT now()
		);
		CREATE INDEX change_journal_table_version
		  ON %s (schema_name, table_name, version)`,
		pgconsts.JournalTable, pgconsts.JournalTable)
	if _, err := s.c.Exec(ctx, stmt); err != nil {
		s.res.JournalCreated.Error = fmt.Errorf("Error creating change journal: %w", err)
		return s.res.JournalCreated.Error
	}
	s.res.JournalCreated = StepResult{Complete: true}
	return nil
}

func (s *setup) checkWatermarks(ctx context.Context) error {
	err := s.exists(ctx, `SELECT 1 WHERE to_regclass($1) IS NOT NULL`, pgconsts.WatermarkTable)
	if err != nil {
		s.res.WatermarksCreated.Error = ErrStateNotSetUp
		return s.res.WatermarksCreated.Error
	}
	s.res.WatermarksCreated.Complete = true
	return nil
}

func (s *setup) createWatermarks(ctx context.Context) error {
	if err := s.checkWatermarks(ctx); err == nil {
		return nil
	}
	stmt := fmt.Sprintf(`
		CREATE TABLE %s (
		  schema_name text NOT NULL,
		  table_name text NOT NULL,
		  version bigint NOT NULL,
		  key_signature text NOT NULL,
		  created_at timestamptz NOT NULL DEFAULT now(),
		  created_by text NOT NULL,
		  updated_at timestamptz NOT NULL DEFAULT now(),
		  updated_by text NOT NULL,
		  PRIMARY KEY (schema_name, table_name)
		)`, pgconsts.WatermarkTable)
	if _, err := s.c.Exec(ctx, stmt); err != nil {
		s.res.WatermarksCreated.Error = fmt.Errorf("Error creating watermark table: %w", err)
		return s.res.WatermarksCreated.Error
	}
	s.res.WatermarksCreated = StepResult{Complete: true}
	return nil
}

func (s *setup) checkStaging(ctx context.Context) error {
	err := s.exists(ctx, `SELECT 1 WHERE to_regclass($1) IS NOT NULL`, pgconsts.StagingTable)
	if err != nil {
		s.res.StagingCreated.Error = ErrStateNotSetUp
		return s.res.StagingCreated.Error
	}
	s.res.StagingCreated.Complete = true
	return nil
}

func (s *setup) createStaging(ctx context.Context) error {
	if err := s.checkStaging(ctx); err == nil {
		return nil
	}
	stmt := fmt.Sprintf(`
		CREATE TABLE %s (
		  schema_name text NOT NULL,
		  table_name text NOT NULL,
		  key_column_name text NOT NULL,
		  fingerprint char(16) NOT NULL,
		  created_at timestamptz NOT NULL DEFAULT now()
		)`, pgconsts.StagingTable)
	if _, err := s.c.Exec(ctx, stmt); err != nil {
		s.res.StagingCreated.Error = fmt.Errorf("Error creating staging table: %w", err)
		return s.res.StagingCreated.Error
	}
	s.res.StagingCreated = StepResult{Complete: true}
	return nil
}

// exists returns nil when the query yields a row, pgx.ErrNoRows when it
// yields none.
func (s *setup) exists(ctx context.Context, query string, args ...any) error {
	var i int
	return s.c.QueryRow(ctx, query, args...).Scan(&i)
}

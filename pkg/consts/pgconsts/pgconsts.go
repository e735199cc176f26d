package pgconsts

const (
	// Schema is the Postgres schema owning all keystage state.
	Schema = "keystage"

	// RegistryName, JournalName, WatermarkName and StagingName are the bare
	// object names inside the schema; the qualified constants below derive
	// from them so the two can never drift apart.
	RegistryName  = "tracked_tables"
	JournalName   = "change_journal"
	WatermarkName = "watermarks"
	StagingName   = "staged_changes"

	// VersionSequence is the global change-version sequence.  Every journal
	// row takes nextval; the cutover reads the last issued value.
	VersionSequence = Schema + ".change_version"

	// RegistryTable enrolls tables under change tracking.
	RegistryTable = Schema + "." + RegistryName

	// JournalTable records one row per key change on a tracked table.
	JournalTable = Schema + "." + JournalName

	// WatermarkTable maps table identity to the last fully processed version.
	WatermarkTable = Schema + "." + WatermarkName

	// StagingTable receives the run-scoped set of changed key fingerprints.
	StagingTable = Schema + "." + StagingName

	// DefaultActor is the audit actor recorded on watermark rows when the
	// caller does not provide one.
	DefaultActor = "keystage"
)

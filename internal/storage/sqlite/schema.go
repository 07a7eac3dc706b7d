package sqlite

// schemaSignature identifies the shape of tables this version of the store expects.
// Open refuses to touch a database whose schema_meta row names a different signature
// (or whose schema_meta table is absent from a non-empty file) rather than guessing at
// an implicit migration path: fail closed with RESET_REQUIRED.
const schemaSignature = "mindloom.v1"

const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_meta (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	signature TEXT NOT NULL,
	created_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS workspaces (
	id TEXT PRIMARY KEY,
	created_at_ms INTEGER NOT NULL,
	project_guard TEXT,
	guard_rebound INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS workspace_seq (
	workspace TEXT PRIMARY KEY,
	value INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS branches (
	workspace TEXT NOT NULL,
	name TEXT NOT NULL,
	base_branch TEXT NOT NULL,
	base_seq INTEGER NOT NULL DEFAULT 0,
	head_commit_id TEXT,
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL,
	PRIMARY KEY (workspace, name)
);

CREATE TABLE IF NOT EXISTS commits (
	workspace TEXT NOT NULL,
	branch TEXT NOT NULL,
	commit_id TEXT NOT NULL,
	parent_commit_id TEXT,
	message TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at_ms INTEGER NOT NULL,
	PRIMARY KEY (workspace, commit_id)
);
CREATE INDEX IF NOT EXISTS idx_commits_branch ON commits(workspace, branch);

CREATE TABLE IF NOT EXISTS merges (
	workspace TEXT NOT NULL,
	merge_id TEXT NOT NULL,
	source_branch TEXT NOT NULL,
	target_branch TEXT NOT NULL,
	synthesis_commit_id TEXT NOT NULL,
	strategy TEXT NOT NULL,
	summary TEXT NOT NULL,
	created_at_ms INTEGER NOT NULL,
	PRIMARY KEY (workspace, merge_id)
);

CREATE TABLE IF NOT EXISTS tasks (
	workspace TEXT NOT NULL,
	id TEXT NOT NULL,
	kind TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT,
	status TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	blocked INTEGER NOT NULL DEFAULT 0,
	updated_at_ms INTEGER NOT NULL,
	parked_until_ms INTEGER,
	revision INTEGER NOT NULL DEFAULT 0,
	parent_plan_id TEXT,
	reasoning_mode TEXT NOT NULL DEFAULT 'lax',
	PRIMARY KEY (workspace, id)
);

CREATE TABLE IF NOT EXISTS steps (
	workspace TEXT NOT NULL,
	task_id TEXT NOT NULL,
	step_id TEXT NOT NULL,
	path TEXT NOT NULL,
	title TEXT NOT NULL,
	success_criteria_json TEXT,
	tests_json TEXT,
	blockers_json TEXT,
	completed INTEGER NOT NULL DEFAULT 0,
	completed_at_ms INTEGER,
	criteria_confirmed INTEGER NOT NULL DEFAULT 0,
	tests_confirmed INTEGER NOT NULL DEFAULT 0,
	security_confirmed INTEGER NOT NULL DEFAULT 0,
	perf_confirmed INTEGER NOT NULL DEFAULT 0,
	docs_confirmed INTEGER NOT NULL DEFAULT 0,
	proof_tests_mode TEXT NOT NULL DEFAULT 'off',
	proof_security_mode TEXT NOT NULL DEFAULT 'off',
	proof_perf_mode TEXT NOT NULL DEFAULT 'off',
	proof_docs_mode TEXT NOT NULL DEFAULT 'off',
	blocked INTEGER NOT NULL DEFAULT 0,
	block_reason TEXT,
	PRIMARY KEY (workspace, task_id, step_id)
);
CREATE INDEX IF NOT EXISTS idx_steps_task_path ON steps(workspace, task_id, path);

CREATE TABLE IF NOT EXISTS step_leases (
	workspace TEXT NOT NULL,
	task_id TEXT NOT NULL,
	step_id TEXT NOT NULL,
	holder_agent_id TEXT NOT NULL,
	acquired_seq INTEGER NOT NULL,
	expires_seq INTEGER NOT NULL,
	PRIMARY KEY (workspace, task_id, step_id)
);

CREATE TABLE IF NOT EXISTS anchors (
	workspace TEXT NOT NULL,
	id TEXT NOT NULL,
	title TEXT NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	description TEXT,
	refs_json TEXT,
	aliases_json TEXT,
	parent_id TEXT,
	depends_on_json TEXT,
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL,
	PRIMARY KEY (workspace, id)
);

CREATE TABLE IF NOT EXISTS anchor_aliases (
	workspace TEXT NOT NULL,
	alias TEXT NOT NULL,
	anchor_id TEXT NOT NULL,
	PRIMARY KEY (workspace, alias)
);

CREATE TABLE IF NOT EXISTS knowledge_keys (
	workspace TEXT NOT NULL,
	anchor_id TEXT NOT NULL,
	key TEXT NOT NULL,
	card_id TEXT NOT NULL,
	created_at_ms INTEGER NOT NULL,
	seq INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_knowledge_anchor_key ON knowledge_keys(workspace, anchor_id, key, seq);

CREATE TABLE IF NOT EXISTS documents (
	workspace TEXT NOT NULL,
	branch TEXT NOT NULL,
	doc TEXT NOT NULL,
	seq INTEGER NOT NULL,
	ts_ms INTEGER NOT NULL,
	kind TEXT NOT NULL,
	title TEXT,
	format TEXT,
	meta_json TEXT,
	content TEXT,
	event_type TEXT,
	task_id TEXT,
	path TEXT,
	PRIMARY KEY (workspace, branch, doc, seq)
);

CREATE TABLE IF NOT EXISTS think_cards (
	workspace TEXT NOT NULL,
	id TEXT NOT NULL,
	branch TEXT NOT NULL,
	graph_doc TEXT NOT NULL,
	type TEXT NOT NULL,
	title TEXT NOT NULL,
	text TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'open',
	tags_json TEXT,
	meta_json TEXT,
	created_at_ms INTEGER NOT NULL,
	PRIMARY KEY (workspace, id)
);
CREATE INDEX IF NOT EXISTS idx_think_cards_branch_doc ON think_cards(workspace, branch, graph_doc);

CREATE TABLE IF NOT EXISTS think_edges (
	workspace TEXT NOT NULL,
	from_id TEXT NOT NULL,
	to_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	created_at_ms INTEGER NOT NULL,
	PRIMARY KEY (workspace, from_id, to_id, kind)
);

CREATE TABLE IF NOT EXISTS jobs (
	workspace TEXT NOT NULL,
	id TEXT NOT NULL,
	title TEXT NOT NULL,
	prompt TEXT NOT NULL,
	kind TEXT NOT NULL,
	priority TEXT NOT NULL DEFAULT 'MEDIUM',
	status TEXT NOT NULL DEFAULT 'QUEUED',
	task_id TEXT,
	anchor_id TEXT,
	runner TEXT,
	revision INTEGER NOT NULL DEFAULT 0,
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL,
	summary TEXT,
	meta_json TEXT,
	PRIMARY KEY (workspace, id)
);

CREATE TABLE IF NOT EXISTS job_artifacts (
	workspace TEXT NOT NULL,
	job_id TEXT NOT NULL,
	artifact_key TEXT NOT NULL,
	content_text TEXT NOT NULL,
	PRIMARY KEY (workspace, job_id, artifact_key)
);

CREATE TABLE IF NOT EXISTS job_events (
	workspace TEXT NOT NULL,
	job_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	ts_ms INTEGER NOT NULL,
	kind TEXT NOT NULL,
	refs_json TEXT,
	meta_json TEXT,
	PRIMARY KEY (workspace, job_id, seq)
);

CREATE TABLE IF NOT EXISTS job_bus_messages (
	workspace TEXT NOT NULL,
	seq INTEGER NOT NULL,
	ts_ms INTEGER NOT NULL,
	thread_id TEXT NOT NULL,
	from_agent_id TEXT NOT NULL,
	from_job_id TEXT,
	to_agent_id TEXT,
	kind TEXT NOT NULL,
	summary TEXT NOT NULL,
	refs_json TEXT,
	payload_json TEXT,
	idempotency_key TEXT NOT NULL,
	PRIMARY KEY (workspace, seq),
	UNIQUE (workspace, idempotency_key)
);
CREATE INDEX IF NOT EXISTS idx_job_bus_thread ON job_bus_messages(workspace, thread_id, seq);

CREATE TABLE IF NOT EXISTS job_bus_offsets (
	workspace TEXT NOT NULL,
	consumer_id TEXT NOT NULL,
	thread_id TEXT NOT NULL,
	after_seq INTEGER NOT NULL DEFAULT 0,
	updated_at_ms INTEGER NOT NULL,
	PRIMARY KEY (workspace, consumer_id, thread_id)
);

CREATE TABLE IF NOT EXISTS events (
	workspace TEXT NOT NULL,
	seq INTEGER NOT NULL,
	ts_ms INTEGER NOT NULL,
	kind TEXT NOT NULL,
	entity_id TEXT,
	payload_json TEXT,
	PRIMARY KEY (workspace, seq)
);

CREATE TABLE IF NOT EXISTS ops_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	workspace TEXT NOT NULL,
	intent TEXT NOT NULL,
	before_json TEXT,
	after_json TEXT,
	created_at_ms INTEGER NOT NULL
);
`

package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/proofstamp/internal/anchor"
	"github.com/roach88/proofstamp/internal/config"
	"github.com/roach88/proofstamp/internal/fingerprint"
	"github.com/roach88/proofstamp/internal/ledger"
	"github.com/roach88/proofstamp/internal/proof"
)

const helloWorld = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// cliEnv runs commands against one index file and one in-process ledger,
// the way successive invocations share a real deployment.
type cliEnv struct {
	dir    string
	db     string
	config string
	ledger *ledger.Memory
}

type cliResult struct {
	stdout string
	stderr string
	err    error
	code   int
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	dir := t.TempDir()
	t.Chdir(dir)
	for _, key := range []string{config.EnvDB, config.EnvRPCURL, config.EnvPrivateKey, config.EnvContract} {
		t.Setenv(key, "")
	}

	cfgPath := filepath.Join(dir, "proofstamp.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("timezone: UTC\n"), 0o600))

	return &cliEnv{
		dir:    dir,
		db:     filepath.Join(dir, "index.db"),
		config: cfgPath,
		ledger: ledger.NewMemory(ledger.WithLedgerClock(func() time.Time { return testNow })),
	}
}

func (e *cliEnv) run(t *testing.T, stdin string, args ...string) cliResult {
	t.Helper()

	opts := &RootOptions{
		Ledger:     e.ledger,
		RequestIDs: anchor.NewFixedGenerator("req-test"),
		Now:        func() time.Time { return testNow },
	}
	cmd := NewRootCommandWithOptions(opts)

	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--db", e.db, "--config", e.config}, args...))

	err := cmd.Execute()
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err, code: GetExitCode(err)}
}

// runJSON runs args with --format json and decodes the response envelope.
func (e *cliEnv) runJSON(t *testing.T, args ...string) (cliResult, jsonResponse) {
	t.Helper()
	res := e.run(t, "", append([]string{"--format", "json"}, args...)...)
	var resp jsonResponse
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp), "stdout: %q stderr: %q", res.stdout, res.stderr)
	return res, resp
}

type jsonResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

func decodeData[T any](t *testing.T, resp jsonResponse) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(resp.Data, &v), "data: %s", resp.Data)
	return v
}

func aliceArgs() []string {
	return []string{"--owner-id", "u-alice", "--owner-name", "Alice"}
}

func TestCLI_AnchorTextThenVerify(t *testing.T) {
	env := newCLIEnv(t)

	res, resp := env.runJSON(t, append([]string{"anchor", "text", "hello world"}, aliceArgs()...)...)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "ok", resp.Status)

	p := decodeData[proof.Proof](t, resp)
	assert.Equal(t, helloWorld, p.Fingerprint.String())
	assert.Equal(t, "Alice", p.OwnerDisplayName)
	assert.Equal(t, "u-alice", p.OwnerID)
	assert.NotEmpty(t, p.LedgerTxRef)
	assert.True(t, testNow.Equal(p.RecordedAt))

	res, resp = env.runJSON(t, "verify", "text", "hello world")
	require.Equal(t, ExitSuccess, res.code)
	vr := decodeData[proof.VerificationResult](t, resp)
	assert.True(t, vr.Found)
	assert.Equal(t, proof.SourceIndex, vr.Source)
	require.NotNil(t, vr.Proof)
	assert.Equal(t, "Alice", vr.Proof.OwnerDisplayName)

	res, resp = env.runJSON(t, "verify", "hash", "0x"+strings.ToUpper(helloWorld))
	require.Equal(t, ExitSuccess, res.code)
	assert.True(t, decodeData[proof.VerificationResult](t, resp).Found)
}

func TestCLI_AnchorTextFromStdin(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run(t, "hello world", append([]string{"--format", "json", "anchor", "text"}, aliceArgs()...)...)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, helloWorld)
}

func TestCLI_VerifyNotFound(t *testing.T) {
	env := newCLIEnv(t)

	res, resp := env.runJSON(t, "verify", "text", "never anchored")
	assert.Equal(t, ExitFailure, res.code)
	assert.Equal(t, "ok", resp.Status)
	vr := decodeData[proof.VerificationResult](t, resp)
	assert.False(t, vr.Found)
	assert.Nil(t, vr.Proof)
}

func TestCLI_DoubleAnchorConflict(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run(t, "", append([]string{"anchor", "text", "hello world"}, aliceArgs()...)...)
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	res, resp := env.runJSON(t, "anchor", "text", "hello world", "--owner-id", "u-bob", "--owner-name", "Bob")
	assert.Equal(t, ExitFailure, res.code)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "CONFLICT", resp.Error.Code)
	assert.Equal(t, "already anchored by Alice", resp.Error.Message)
	assert.Equal(t, 1, env.ledger.Submits(), "conflict must not reach the ledger")
}

func TestCLI_AnchorFile(t *testing.T) {
	env := newCLIEnv(t)

	path := filepath.Join(env.dir, "notes.json")
	content := []byte(`{"notes":"` + strings.Repeat("proof ", 1000) + `"}`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	res, resp := env.runJSON(t, append([]string{"anchor", "file", path}, aliceArgs()...)...)
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	p := decodeData[proof.Proof](t, resp)
	assert.Equal(t, fingerprint.Of(content), p.Fingerprint)
	assert.Equal(t, proof.KindFile, p.Kind)
	require.NotNil(t, p.File)
	assert.Equal(t, "notes.json", p.File.Name)
	assert.Equal(t, int64(len(content)), p.File.Size)
	assert.Equal(t, "application/json", p.File.Mime)

	res, resp = env.runJSON(t, "verify", "file", path)
	require.Equal(t, ExitSuccess, res.code)
	assert.True(t, decodeData[proof.VerificationResult](t, resp).Found)
}

func TestCLI_AnchorFileMissing(t *testing.T) {
	env := newCLIEnv(t)

	res, resp := env.runJSON(t, append([]string{"anchor", "file", filepath.Join(env.dir, "nope.pdf")}, aliceArgs()...)...)
	assert.Equal(t, ExitCommandError, res.code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION", resp.Error.Code)
}

func TestCLI_AnchorHash(t *testing.T) {
	env := newCLIEnv(t)

	args := append([]string{"anchor", "hash", helloWorld,
		"--kind", "file", "--file-name", "report.pdf", "--file-size", "52311", "--mime", "application/pdf"}, aliceArgs()...)
	res, resp := env.runJSON(t, args...)
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	p := decodeData[proof.Proof](t, resp)
	assert.Equal(t, helloWorld, p.Fingerprint.String())
	require.NotNil(t, p.File)
	assert.Equal(t, "report.pdf", p.File.Name)
	assert.Equal(t, int64(52311), p.File.Size)
	assert.Equal(t, "application/pdf", p.File.Mime)
}

func TestCLI_AnchorValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad fingerprint", append([]string{"anchor", "hash", "xyz"}, aliceArgs()...)},
		{"file flags on text kind", append([]string{"anchor", "hash", helloWorld, "--file-name", "a.txt"}, aliceArgs()...)},
		{"file kind without name", append([]string{"anchor", "hash", helloWorld, "--kind", "file"}, aliceArgs()...)},
		{"unknown kind", append([]string{"anchor", "hash", helloWorld, "--kind", "image"}, aliceArgs()...)},
		{"blank owner name", []string{"anchor", "text", "hello", "--owner-name", "   "}},
		{"owner name too long", []string{"anchor", "text", "hello", "--owner-name", strings.Repeat("x", 101)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newCLIEnv(t)
			res, resp := env.runJSON(t, tt.args...)
			assert.Equal(t, ExitCommandError, res.code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, "VALIDATION", resp.Error.Code)
			assert.Equal(t, 0, env.ledger.Submits())
		})
	}
}

func TestCLI_MissingRequiredFlag(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run(t, "", "anchor", "text", "hello")
	assert.Equal(t, ExitCommandError, res.code)
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "owner-name")
}

func TestCLI_InvalidFormat(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run(t, "", "--format", "yaml", "stats")
	assert.Equal(t, ExitCommandError, res.code)
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "invalid format")
}

func TestCLI_LedgerUnavailable(t *testing.T) {
	env := newCLIEnv(t)
	env.ledger.SetUnavailable(true)

	res, resp := env.runJSON(t, append([]string{"anchor", "text", "hello world"}, aliceArgs()...)...)
	assert.Equal(t, ExitLedgerError, res.code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UNAVAILABLE", resp.Error.Code)

	res, resp = env.runJSON(t, "verify", "text", "hello world")
	assert.Equal(t, ExitLedgerError, res.code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UNAVAILABLE", resp.Error.Code)
}

func TestCLI_LedgerOnlyVerification(t *testing.T) {
	env := newCLIEnv(t)
	env.ledger.Inject(fingerprint.MustParse(helloWorld), "0x00000000000000000000000000000000000000aa", "Mallory")

	res, resp := env.runJSON(t, "verify", "hash", helloWorld)
	require.Equal(t, ExitSuccess, res.code)
	vr := decodeData[proof.VerificationResult](t, resp)
	assert.True(t, vr.Found)
	assert.Equal(t, proof.SourceLedgerOnly, vr.Source)
	require.NotNil(t, vr.Proof)
	assert.Equal(t, proof.UnknownOwner, vr.Proof.OwnerDisplayName)
	assert.Equal(t, "Mallory", vr.Proof.ClaimedName)

	res = env.run(t, "", "verify", "hash", helloWorld)
	require.Equal(t, ExitSuccess, res.code)
	assert.Contains(t, res.stdout, "Proof found on ledger only (owner unknown)")
	assert.Contains(t, res.stdout, "Claimed by:  Mallory (unverified)")
}

func TestCLI_VerifyAnchorOlderThanWindow(t *testing.T) {
	env := newCLIEnv(t)
	env.ledger.Inject(fingerprint.MustParse(helloWorld), "0x00000000000000000000000000000000000000aa", "Mallory")
	env.ledger.Mine(ledger.DefaultWindow + 1)

	res := env.run(t, "", "verify", "hash", helloWorld)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Proof found on ledger only (owner unknown)")
	assert.Contains(t, res.stdout, "Claimed by:  Mallory (unverified)")
	assert.NotContains(t, res.stdout, "Transaction:")
}

func TestCLI_HistoryRecentSearch(t *testing.T) {
	env := newCLIEnv(t)

	for _, text := range []string{"first", "second"} {
		res := env.run(t, "", append([]string{"anchor", "text", text}, aliceArgs()...)...)
		require.Equal(t, ExitSuccess, res.code, res.stderr)
	}
	res := env.run(t, "", "anchor", "text", "third", "--owner-id", "u-bob", "--owner-name", "Bob")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	res, resp := env.runJSON(t, "history", "--owner-id", "u-alice")
	require.Equal(t, ExitSuccess, res.code)
	history := decodeData[[]proof.Proof](t, resp)
	require.Len(t, history, 2)
	assert.Equal(t, fingerprint.Of([]byte("first")), history[0].Fingerprint)
	assert.Equal(t, fingerprint.Of([]byte("second")), history[1].Fingerprint)

	res, resp = env.runJSON(t, "history", "--owner-id", "u-alice", "--desc", "--limit", "1")
	require.Equal(t, ExitSuccess, res.code)
	history = decodeData[[]proof.Proof](t, resp)
	require.Len(t, history, 1)
	assert.Equal(t, fingerprint.Of([]byte("second")), history[0].Fingerprint)

	res, _ = env.runJSON(t, "history", "--owner-id", "u-alice", "--sort", "size")
	assert.Equal(t, ExitCommandError, res.code)

	for _, args := range [][]string{
		{"history", "--owner-id", "u-alice", "--limit", "501"},
		{"recent", "--limit", "1000"},
		{"search", "bo", "--limit=-1"},
	} {
		res, resp = env.runJSON(t, args...)
		assert.Equal(t, ExitCommandError, res.code, args)
		require.NotNil(t, resp.Error, args)
		assert.Equal(t, "VALIDATION", resp.Error.Code, args)
	}

	res, resp = env.runJSON(t, "recent", "--limit", "5")
	require.Equal(t, ExitSuccess, res.code)
	assert.Len(t, decodeData[[]proof.Proof](t, resp), 3)

	res, resp = env.runJSON(t, "search", "bo")
	require.Equal(t, ExitSuccess, res.code)
	found := decodeData[[]proof.Proof](t, resp)
	require.Len(t, found, 1)
	assert.Equal(t, "Bob", found[0].OwnerDisplayName)

	res = env.run(t, "", "history", "--owner-id", "u-nobody")
	require.Equal(t, ExitSuccess, res.code)
	assert.Equal(t, "No proofs.\n", res.stdout)
}

func TestCLI_Stats(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run(t, "", "stats")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "Total proofs: 0\nTotal owners: 0\nProofs today: 0\n", res.stdout)

	for _, text := range []string{"a", "b"} {
		res := env.run(t, "", append([]string{"anchor", "text", text}, aliceArgs()...)...)
		require.Equal(t, ExitSuccess, res.code, res.stderr)
	}
	res = env.run(t, "", "anchor", "text", "c", "--owner-id", "u-bob", "--owner-name", "Bob")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	res, resp := env.runJSON(t, "stats")
	require.Equal(t, ExitSuccess, res.code)
	stats := decodeData[proof.Stats](t, resp)
	assert.Equal(t, proof.Stats{TotalProofs: 3, TotalOwners: 2, ProofsToday: 3}, stats)
}

func TestCLI_OwnerUpdateAndErase(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run(t, "", append([]string{"anchor", "text", "hello world"}, aliceArgs()...)...)
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	res, resp := env.runJSON(t, "owner", "update", "--owner-id", "u-alice", "--owner-name", "Alice Liddell")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, ownerChangeView{OwnerID: "u-alice", Action: "updated", Proofs: 1}, decodeData[ownerChangeView](t, resp))

	_, resp = env.runJSON(t, "verify", "hash", helloWorld)
	assert.Equal(t, "Alice Liddell", decodeData[proof.VerificationResult](t, resp).Proof.OwnerDisplayName)

	res, resp = env.runJSON(t, "owner", "erase", "--owner-id", "u-alice")
	assert.Equal(t, ExitCommandError, res.code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION", resp.Error.Code)

	res, resp = env.runJSON(t, "owner", "erase", "--owner-id", "u-alice", "--yes")
	require.Equal(t, ExitSuccess, res.code)
	assert.Equal(t, int64(1), decodeData[ownerChangeView](t, resp).Proofs)

	// The ledger still has the anchor; only the owner is gone.
	res, resp = env.runJSON(t, "verify", "hash", helloWorld)
	require.Equal(t, ExitSuccess, res.code)
	vr := decodeData[proof.VerificationResult](t, resp)
	assert.Equal(t, proof.SourceLedgerOnly, vr.Source)
	assert.Equal(t, proof.UnknownOwner, vr.Proof.OwnerDisplayName)
}

func TestCLI_Reconcile(t *testing.T) {
	env := newCLIEnv(t)
	fp := fingerprint.MustParse(helloWorld)
	env.ledger.Inject(fp, ledger.DefaultMemorySubmitter, "Alice")

	res, resp := env.runJSON(t, append([]string{"reconcile", helloWorld}, aliceArgs()...)...)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	p := decodeData[proof.Proof](t, resp)
	assert.Equal(t, "Alice", p.OwnerDisplayName)
	assert.Equal(t, ledger.DefaultMemorySubmitter, p.Submitter)

	res, resp = env.runJSON(t, "verify", "hash", helloWorld)
	require.Equal(t, ExitSuccess, res.code)
	assert.Equal(t, proof.SourceIndex, decodeData[proof.VerificationResult](t, resp).Source)

	// Reconciling again returns the indexed record.
	res, _ = env.runJSON(t, append([]string{"reconcile", helloWorld}, aliceArgs()...)...)
	assert.Equal(t, ExitSuccess, res.code)
}

func TestCLI_ReconcileRefusals(t *testing.T) {
	env := newCLIEnv(t)

	res, resp := env.runJSON(t, append([]string{"reconcile", helloWorld}, aliceArgs()...)...)
	assert.Equal(t, ExitFailure, res.code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)

	foreign := fingerprint.Of([]byte("foreign"))
	env.ledger.Inject(foreign, "0x00000000000000000000000000000000000000aa", "Mallory")
	res, resp = env.runJSON(t, append([]string{"reconcile", foreign.String()}, aliceArgs()...)...)
	assert.Equal(t, ExitFailure, res.code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "CONFLICT", resp.Error.Code)
}

func TestCLI_Status(t *testing.T) {
	env := newCLIEnv(t)

	res, resp := env.runJSON(t, "status")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	st := decodeData[proof.LedgerStatus](t, resp)
	assert.Equal(t, "memory", st.Network)
	assert.Equal(t, ledger.DefaultMemorySubmitter, st.Submitter)
}

func TestCLI_BadConfig(t *testing.T) {
	env := newCLIEnv(t)
	require.NoError(t, os.WriteFile(env.config, []byte("ledger:\n  driver: carrier-pigeon\n"), 0o600))

	res, resp := env.runJSON(t, "stats")
	assert.Equal(t, ExitCommandError, res.code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION", resp.Error.Code)
}

// Package audit keeps a tamper-evident journal of security-relevant vault
// operations. Each record is a JSON line carrying an HMAC over its own
// fields and the previous record's HMAC, so removing or editing any line
// breaks the chain from that point on.
//
// The HMAC key is derived from the vault's data key, which means only a
// holder of the master password can extend or verify the chain. Item
// references are recorded as keyed HMACs and never as content.
package audit

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forest6511/clipvault/pkg/crypto"
)

// Operation types.
const (
	OpVaultCreate         = "vault.create"
	OpVaultUnlock         = "vault.unlock"
	OpVaultUnlockFailed   = "vault.unlock_failed"
	OpVaultPasswordChange = "vault.password_change"
	OpVaultWipe           = "vault.wipe"
	OpVaultBackup         = "vault.backup"
	OpItemUpdate          = "item.update"
	OpItemDelete          = "item.delete"
	OpDaemonStart         = "daemon.start"
	OpDaemonStop          = "daemon.stop"
)

// Sources.
const (
	SourceCLI    = "cli"
	SourceDaemon = "daemon"
	SourceAPI    = "api"
	SourceMCP    = "mcp"
)

// Results.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

const (
	hmacInfo    = "audit-log-v1"
	genesisHash = "genesis"
	stateFile   = "audit.meta"
	fileMode    = 0600
	dirMode     = 0700
)

// ErrKeyNotSet is returned when logging or verifying before SetKey.
var ErrKeyNotSet = errors.New("audit: HMAC key not set")

// Event is a single audit record.
type Event struct {
	Version   int    `json:"v"`
	ID        string `json:"id"`
	Timestamp string `json:"ts"`
	Operation string `json:"op"`
	Ref       string `json:"ref,omitempty"`
	Source    string `json:"source"`
	SessionID string `json:"session_id"`
	Result    string `json:"result"`
	Error     string `json:"error,omitempty"`
	Chain     Chain  `json:"chain"`
}

// Chain links a record to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

// VerifyResult reports the outcome of chain verification.
type VerifyResult struct {
	Valid   bool     `json:"valid"`
	Records int      `json:"records"`
	Errors  []string `json:"errors,omitempty"`
}

// Logger appends HMAC-chained events to monthly JSONL files under a directory.
type Logger struct {
	path      string
	key       []byte
	sessionID string
	now       func() time.Time
	mu        sync.Mutex
}

// NewLogger returns a logger writing under dir. It cannot write until SetKey.
func NewLogger(dir string) *Logger {
	return &Logger{
		path:      dir,
		sessionID: uuid.NewString(),
		now:       time.Now,
	}
}

// Path returns the audit directory.
func (l *Logger) Path() string {
	return l.path
}

// SetKey derives the chain HMAC key from the vault data key.
func (l *Logger) SetKey(dataKey []byte) error {
	k, err := crypto.DeriveSubkey(dataKey, hmacInfo)
	if err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.key != nil {
		crypto.SecureWipe(l.key)
	}
	l.key = k
	return nil
}

// ClearKey wipes the HMAC key.
func (l *Logger) ClearKey() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.key != nil {
		crypto.SecureWipe(l.key)
		l.key = nil
	}
}

// Ref returns the value recorded for an item identifier: a keyed HMAC, so
// the journal never reveals content hashes that could be confirmed offline.
func (l *Logger) Ref(id string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.key == nil || id == "" {
		return ""
	}
	mac := hmac.New(sha256.New, l.key)
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))[:32]
}

// Success records a successful operation.
func (l *Logger) Success(op, source, ref string) error {
	return l.Log(op, source, ref, nil)
}

// Failure records a failed operation.
func (l *Logger) Failure(op, source string, cause error) error {
	return l.Log(op, source, "", cause)
}

// Log appends one event. The chain state is re-read from disk before every
// append because the daemon and the CLI share the same journal.
func (l *Logger) Log(op, source, ref string, cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.key == nil {
		return ErrKeyNotSet
	}
	if err := os.MkdirAll(l.path, dirMode); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}

	state := l.loadState()
	now := l.now().UTC()
	ev := Event{
		Version:   1,
		ID:        uuid.NewString(),
		Timestamp: now.Format(time.RFC3339Nano),
		Operation: op,
		Ref:       ref,
		Source:    source,
		SessionID: l.sessionID,
		Result:    ResultSuccess,
	}
	if cause != nil {
		ev.Result = ResultError
		ev.Error = cause.Error()
	}
	ev.Chain.Sequence = state.Sequence + 1
	ev.Chain.PrevHash = state.PrevHash
	ev.Chain.HMAC = l.sign(&ev)

	if err := l.append(now, &ev); err != nil {
		return err
	}
	return l.saveState(chainState{Sequence: ev.Chain.Sequence, PrevHash: ev.Chain.HMAC})
}

func (l *Logger) sign(ev *Event) string {
	data := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s|%d|%s",
		ev.Version, ev.ID, ev.Timestamp, ev.Operation, ev.Ref, ev.Source,
		ev.SessionID, ev.Result, ev.Error, ev.Chain.Sequence, ev.Chain.PrevHash)
	mac := hmac.New(sha256.New, l.key)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func (l *Logger) append(now time.Time, ev *Event) error {
	name := filepath.Join(l.path, now.Format("2006-01")+".jsonl")
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, fileMode)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

func (l *Logger) loadState() chainState {
	data, err := os.ReadFile(filepath.Join(l.path, stateFile))
	if err != nil {
		return chainState{PrevHash: genesisHash}
	}
	var st chainState
	if err := json.Unmarshal(data, &st); err != nil || st.PrevHash == "" {
		return chainState{PrevHash: genesisHash}
	}
	return st
}

func (l *Logger) saveState(st chainState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.path, stateFile), data, fileMode); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// Verify walks every log file in chronological order and checks sequence
// numbers, back links and HMACs.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.key == nil {
		return nil, ErrKeyNotSet
	}
	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	res := &VerifyResult{Valid: true}
	prev := genesisHash
	var seq int64 = 1
	for i := range events {
		ev := &events[i]
		res.Records++
		if ev.Chain.Sequence != seq {
			res.Valid = false
			res.Errors = append(res.Errors, fmt.Sprintf("sequence gap at record %s: expected %d, got %d", ev.ID, seq, ev.Chain.Sequence))
		}
		if ev.Chain.PrevHash != prev {
			res.Valid = false
			res.Errors = append(res.Errors, fmt.Sprintf("chain broken at record %s", ev.ID))
		}
		if !hmac.Equal([]byte(l.sign(ev)), []byte(ev.Chain.HMAC)) {
			res.Valid = false
			res.Errors = append(res.Errors, fmt.Sprintf("HMAC mismatch at record %s: possible tampering", ev.ID))
		}
		prev = ev.Chain.HMAC
		seq = ev.Chain.Sequence + 1
	}
	return res, nil
}

// List returns the most recent events, oldest first. limit <= 0 returns all.
func (l *Logger) List(limit int) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

func (l *Logger) readAll() ([]Event, error) {
	files, err := filepath.Glob(filepath.Join(l.path, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	// YYYY-MM names sort chronologically
	sort.Strings(files)

	var events []Event
	for _, name := range files {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", name, err)
		}
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			var ev Event
			if err := json.Unmarshal(line, &ev); err != nil {
				return nil, fmt.Errorf("audit: failed to parse %s: %w", name, err)
			}
			events = append(events, ev)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("audit: failed to scan %s: %w", name, err)
		}
	}
	return events, nil
}

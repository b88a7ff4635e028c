// Package archive keeps every reconciled bill snapshot: one git repository
// per bill with a commit per change, plus raw upstream payloads in object
// storage.
package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	snapshotFile = "snapshot.json"
	branch       = "main"
	authorName   = "billfeed"
	authorEmail  = "billfeed@localhost"
)

// ErrNoHistory is returned when a bill has never been archived.
var ErrNoHistory = errors.New("archive: no history for bill")

// ErrUnknownRevision is returned when a revision names no commit or tag.
var ErrUnknownRevision = errors.New("archive: unknown revision")

type Commit struct {
	Hash       string    `json:"hash"`
	Message    string    `json:"message"`
	ChangeHash string    `json:"changeHash"`
	CreatedAt  time.Time `json:"createdAt"`
}

type GitArchive struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewGitArchive(baseDir string) *GitArchive {
	return &GitArchive{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Commit writes snapshot as the bill's current state. The repository is
// created on first use. A snapshot identical to the current head is not
// committed again and the head is returned with created=false.
func (s *GitArchive) Commit(billID, changeHash string, snapshot json.RawMessage, eventCount int) (Commit, bool, error) {
	lock := s.billLock(billID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(billID)
	if err != nil {
		return Commit{}, false, err
	}

	payload, err := indent(snapshot)
	if err != nil {
		return Commit{}, false, err
	}

	if head, err := headCommit(repo); err == nil {
		current, err := readSnapshot(head)
		if err == nil && bytes.Equal(current, payload) {
			return toCommit(head), false, nil
		}
	} else if !errors.Is(err, ErrNoHistory) {
		return Commit{}, false, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, false, fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), snapshotFile), payload, 0o644); err != nil {
		return Commit{}, false, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return Commit{}, false, fmt.Errorf("git add snapshot: %w", err)
	}

	message := fmt.Sprintf("change_hash %s\n\n%d new feed events", changeHash, eventCount)
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: authorName, Email: authorEmail, When: time.Now()},
	})
	if err != nil {
		return Commit{}, false, fmt.Errorf("commit snapshot: %w", err)
	}

	if changeHash != "" {
		if _, err := repo.CreateTag(changeHash, hash, nil); err != nil && !errors.Is(err, git.ErrTagExists) {
			return Commit{}, false, fmt.Errorf("tag change hash: %w", err)
		}
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), true, nil
}

// History lists archived snapshots newest first.
func (s *GitArchive) History(billID string, limit int) ([]Commit, error) {
	lock := s.billLock(billID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(billID)
	if err != nil {
		return nil, err
	}
	head, err := headCommit(repo)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// SnapshotAt returns the snapshot stored at a commit hash, abbreviated hash
// or change hash tag.
func (s *GitArchive) SnapshotAt(billID, revision string) (json.RawMessage, error) {
	lock := s.billLock(billID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(billID)
	if err != nil {
		return nil, err
	}
	var hash plumbing.Hash
	if tag, err := repo.Tag(revision); err == nil {
		hash = tag.Hash()
	} else {
		resolved, err := repo.ResolveRevision(plumbing.Revision(revision))
		if err != nil {
			return nil, fmt.Errorf("%w %s: %v", ErrUnknownRevision, revision, err)
		}
		hash = *resolved
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", revision, err)
	}
	return readSnapshot(commitObj)
}

func (s *GitArchive) repoPath(billID string) string {
	return filepath.Join(s.baseDir, billID)
}

func (s *GitArchive) billLock(billID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[billID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[billID] = lock
	return lock
}

func (s *GitArchive) open(billID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(billID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *GitArchive) openOrInit(billID string) (*git.Repository, error) {
	repo, err := s.open(billID)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, ErrNoHistory) {
		return nil, err
	}

	path := s.repoPath(billID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branch))); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", branch, err)
	}
	return repo, nil
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load head commit: %w", err)
	}
	return commitObj, nil
}

func readSnapshot(commitObj *object.Commit) (json.RawMessage, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read snapshot bytes: %w", err)
	}
	return json.RawMessage(data), nil
}

func indent(snapshot json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, snapshot, "", "  "); err != nil {
		return nil, fmt.Errorf("format snapshot: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func toCommit(commitObj *object.Commit) Commit {
	changeHash, _, _ := strings.Cut(commitObj.Message, "\n")
	return Commit{
		Hash:       commitObj.Hash.String()[:7],
		Message:    commitObj.Message,
		ChangeHash: strings.TrimPrefix(changeHash, "change_hash "),
		CreatedAt:  commitObj.Author.When,
	}
}

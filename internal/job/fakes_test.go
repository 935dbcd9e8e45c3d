package job

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgermail/extractor/constants"
	"github.com/ledgermail/extractor/internal/entity"
	"github.com/ledgermail/extractor/internal/extract"
	"github.com/ledgermail/extractor/internal/mailbox"
)

// fakeJobRepo keeps one job row in memory and mimics the repository's CAS
// semantics.
type fakeJobRepo struct {
	mu             sync.Mutex
	job            *entity.Job
	progressWrites int
}

func newFakeJobRepo(j *entity.Job) *fakeJobRepo {
	return &fakeJobRepo{job: j}
}

func (f *fakeJobRepo) snapshot() entity.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.job
}

func (f *fakeJobRepo) Create(_ context.Context, userID, sourceAccountID uuid.UUID, startDate, endDate time.Time) (*entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.job = &entity.Job{
		ID:              uuid.New(),
		UserID:          userID,
		SourceAccountID: sourceAccountID,
		StartDate:       startDate,
		EndDate:         endDate,
		Status:          constants.JobStatusPending,
		CreatedAt:       time.Now(),
	}
	created := *f.job
	return &created, nil
}

func (f *fakeJobRepo) Get(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := *f.job
	return &j, nil
}

func (f *fakeJobRepo) AcquireLease(_ context.Context, _ uuid.UUID, owner string, staleAfter time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.job
	if j.Status != constants.JobStatusPending && j.Status != constants.JobStatusProcessing {
		return false, nil
	}
	if j.LeaseAcquiredAt != nil && time.Since(*j.LeaseAcquiredAt) < staleAfter {
		return false, nil
	}
	now := time.Now()
	j.LeaseOwner = &owner
	j.LeaseAcquiredAt = &now
	j.Status = constants.JobStatusProcessing
	return true, nil
}

func (f *fakeJobRepo) UpdateProgress(_ context.Context, _ uuid.UUID, p entity.Progress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.job.Progress = p
	f.progressWrites++
	return nil
}

func (f *fakeJobRepo) FinalizeCompleted(_ context.Context, _ uuid.UUID, p entity.Progress) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.job.Status != constants.JobStatusProcessing {
		return false, nil
	}
	f.job.Status = constants.JobStatusCompleted
	f.job.Progress = p
	f.job.LeaseOwner = nil
	f.job.LeaseAcquiredAt = nil
	return true, nil
}

func (f *fakeJobRepo) FinalizeFailed(_ context.Context, _ uuid.UUID, p entity.Progress, message string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.job.Status == constants.JobStatusCompleted || f.job.Status == constants.JobStatusFailed {
		return false, nil
	}
	f.job.Status = constants.JobStatusFailed
	f.job.Progress = p
	f.job.ErrorMessage = &message
	f.job.LeaseOwner = nil
	f.job.LeaseAcquiredAt = nil
	return true, nil
}

func (f *fakeJobRepo) FailStale(_ context.Context, cutoff time.Time, message string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.job.Status == constants.JobStatusProcessing &&
		f.job.LeaseAcquiredAt != nil && f.job.LeaseAcquiredAt.Before(cutoff) {
		f.job.Status = constants.JobStatusFailed
		f.job.ErrorMessage = &message
		return 1, nil
	}
	return 0, nil
}

// fakeRecordRepo stores records keyed by source message id.
type fakeRecordRepo struct {
	mu            sync.Mutex
	bySource      map[string]*entity.ExtractedRecord
	inserts       int
	updates       int
	usedThisMonth int
	preloaded     []*entity.ExtractedRecord
}

func newFakeRecordRepo() *fakeRecordRepo {
	return &fakeRecordRepo{bySource: make(map[string]*entity.ExtractedRecord)}
}

func (f *fakeRecordRepo) FindIDBySourceMessage(_ context.Context, _ uuid.UUID, messageID string) (uuid.UUID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.bySource[messageID]; ok {
		return rec.ID, true, nil
	}
	return uuid.Nil, false, nil
}

func (f *fakeRecordRepo) Insert(_ context.Context, rec *entity.ExtractedRecord) (*entity.ExtractedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.ID = uuid.New()
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	stored := *rec
	f.bySource[rec.SourceMessageID] = &stored
	f.inserts++
	return rec, nil
}

func (f *fakeRecordRepo) UpdateBySourceMessage(_ context.Context, rec *entity.ExtractedRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *rec
	f.bySource[rec.SourceMessageID] = &stored
	f.updates++
	return nil
}

func (f *fakeRecordRepo) ListInWindow(_ context.Context, _ uuid.UUID, _, _ time.Time) ([]*entity.ExtractedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.preloaded, nil
}

func (f *fakeRecordRepo) CountForJob(_ context.Context, jobID uuid.UUID) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int32
	for _, rec := range f.bySource {
		if rec.JobID == jobID {
			n++
		}
	}
	return n, nil
}

func (f *fakeRecordRepo) CountCreatedSince(_ context.Context, _ uuid.UUID, _ time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usedThisMonth, nil
}

// fakeAccountRepo returns one account and one user.
type fakeAccountRepo struct {
	account *entity.SourceAccount
	user    *entity.User
}

func (f *fakeAccountRepo) GetSourceAccount(_ context.Context, _ uuid.UUID) (*entity.SourceAccount, error) {
	return f.account, nil
}

func (f *fakeAccountRepo) GetUser(_ context.Context, _ uuid.UUID) (*entity.User, error) {
	return f.user, nil
}

// fakeSource serves canned messages.
type fakeSource struct {
	mu       sync.Mutex
	messages map[string]*mailbox.RawMessage
	order    []string
	listErr  error
	fetchErr map[string]error
	fetches  map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		messages: make(map[string]*mailbox.RawMessage),
		fetchErr: make(map[string]error),
		fetches:  make(map[string]int),
	}
}

func (f *fakeSource) add(msg *mailbox.RawMessage) {
	f.messages[msg.ID] = msg
	f.order = append(f.order, msg.ID)
}

func (f *fakeSource) ListCandidateIDs(_ context.Context, _ uuid.UUID, _ mailbox.Window) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.order, nil
}

func (f *fakeSource) FetchMessage(_ context.Context, _ uuid.UUID, messageID string) (*mailbox.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[messageID]++
	if err, ok := f.fetchErr[messageID]; ok {
		return nil, err
	}
	return f.messages[messageID], nil
}

// fakeExtractor returns canned fields keyed by subject.
type fakeExtractor struct {
	mu        sync.Mutex
	bySubject map[string]extract.RecordFields
	errs      map[string]error
	calls     int
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		bySubject: make(map[string]extract.RecordFields),
		errs:      make(map[string]error),
	}
}

func (f *fakeExtractor) Extract(_ context.Context, req extract.Request) (extract.RecordFields, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errs[req.Subject]; ok {
		return extract.RecordFields{}, nil, err
	}
	return f.bySubject[req.Subject], []byte("{}"), nil
}

// fakeStore records artifact puts.
type fakeStore struct {
	mu   sync.Mutex
	puts int
	err  error
}

func (f *fakeStore) Put(_ context.Context, _ []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.puts++
	return "mem://artifact", nil
}

package images

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/artifact"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/logging"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/sharkey"
)

// ErrNoCandidate means a tag produced no safe, downloadable image.
var ErrNoCandidate = errors.New("no suitable image found")

// Drive is the remote file storage the uploader writes to.
type Drive interface {
	EnsureFolder(ctx context.Context, name string) (string, error)
	Upload(ctx context.Context, folderID, name string, data []byte) (sharkey.DriveFile, error)
	Rename(ctx context.Context, fileID, name, folderID string) (sharkey.DriveFile, error)
}

// Mode decides what happens when a downloaded image is already on the Drive.
type Mode string

const (
	// ModeReuse keeps the stored file untouched.
	ModeReuse Mode = "reuse"
	// ModeRename renames the stored file to this run's name.
	ModeRename Mode = "rename"
)

// ParseMode reads a dedupe mode name. Empty means reuse.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeReuse, nil
	case ModeReuse, ModeRename:
		return m, nil
	}
	return "", fmt.Errorf("unknown dedup mode %q (want %s or %s)", s, ModeReuse, ModeRename)
}

// UploaderOptions configures an Uploader.
type UploaderOptions struct {
	Folder   string
	Mode     Mode
	MaxTries int
	Now      func() time.Time
	Logger   logging.Logger
}

// Uploader picks one image per tag and makes sure it is on the Drive exactly once.
type Uploader struct {
	gatherer   *Gatherer
	downloader *Downloader
	drive      Drive
	folder     string
	folderID   string
	mode       Mode
	maxTries   int
	now        func() time.Time
	logger     logging.Logger
}

// NewUploader creates an uploader.
func NewUploader(g *Gatherer, d *Downloader, drive Drive, opts UploaderOptions) *Uploader {
	if opts.Folder == "" {
		opts.Folder = "Advertisements"
	}
	if opts.Mode == "" {
		opts.Mode = ModeReuse
	}
	if opts.MaxTries <= 0 {
		opts.MaxTries = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Uploader{
		gatherer:   g,
		downloader: d,
		drive:      drive,
		folder:     opts.Folder,
		mode:       opts.Mode,
		maxTries:   opts.MaxTries,
		now:        opts.Now,
		logger:     logging.OrDiscard(opts.Logger),
	}
}

// Run processes tags in order against idx, which it updates in memory. The
// caller persists idx afterwards. Per-tag failures land in the manifest;
// only cancellation is returned as an error.
func (u *Uploader) Run(ctx context.Context, tags []artifact.SelectedTag, domains []string, idx *artifact.DedupeIndex) (*artifact.Manifest, error) {
	m := &artifact.Manifest{
		GeneratedAt: u.now().UTC(),
		DedupMode:   string(u.mode),
		Results:     []artifact.UploadRecord{},
		Skipped:     []artifact.SkippedTag{},
		Failed:      []artifact.FailedTag{},
	}

	for _, st := range tags {
		if err := ctx.Err(); err != nil {
			return m, fmt.Errorf("upload run: %w", err)
		}
		log := u.logger.WithField("tag", st.Tag)

		rec, err := u.processTag(ctx, st, domains, idx)
		switch {
		case errors.Is(err, ErrNoCandidate):
			log.WithError(err).Info("skipping tag")
			m.Skipped = append(m.Skipped, artifact.SkippedTag{Tag: st.Tag, Reason: err.Error()})
		case err != nil:
			log.WithError(err).Warn("image transfer failed")
			m.Failed = append(m.Failed, artifact.FailedTag{Tag: st.Tag, Error: err.Error()})
		default:
			log.WithFields(logging.Fields{"sha": rec.SHA256, "action": rec.Action, "file": rec.FileName}).Info("image ready")
			m.Results = append(m.Results, *rec)
		}
	}
	return m, nil
}

func (u *Uploader) processTag(ctx context.Context, st artifact.SelectedTag, domains []string, idx *artifact.DedupeIndex) (*artifact.UploadRecord, error) {
	gathered, err := u.gatherer.Gather(ctx, st.Tag, domains)
	if err != nil {
		return nil, err
	}
	if len(gathered.Candidates) == 0 {
		if len(domains) > 0 && len(gathered.FailedDomains) == len(domains) {
			return nil, fmt.Errorf("no bubble domain answered: %s", strings.Join(gathered.FailedDomains, ", "))
		}
		return nil, fmt.Errorf("%w (scanned %d posts)", ErrNoCandidate, gathered.Scanned)
	}

	var (
		chosen Candidate
		img    *Image
	)
	for i, c := range gathered.Candidates {
		if i >= u.maxTries {
			break
		}
		got, err := u.downloader.Fetch(ctx, c.Best.MediaURL)
		if err == nil {
			chosen, img = c, got
			break
		}
		if !Skippable(err) {
			return nil, err
		}
		u.logger.WithError(err).WithField("tag", st.Tag).Debug("candidate unusable, trying next")
	}
	if img == nil {
		return nil, fmt.Errorf("%w: no candidate could be downloaded", ErrNoCandidate)
	}

	name := FileName(u.now(), gathered.Tag, chosen.Best.Origin, img.Ext)
	entry, action, err := u.store(ctx, img, name, idx)
	if err != nil {
		return nil, err
	}

	return &artifact.UploadRecord{
		Tag:          gathered.Tag,
		Score:        st.Score,
		SourceDomain: chosen.Best.Domain,
		SourcePostID: chosen.Best.ID,
		SourceURL:    chosen.Best.URL,
		MediaURL:     img.URL,
		Consensus:    chosen.Consensus(),
		Engagement:   chosen.Best.Engagement,
		SHA256:       img.SHA256,
		FileName:     entry.FileName,
		DriveFileID:  entry.FileID,
		DriveURL:     entry.URL,
		Action:       action,
		UploadedAt:   entry.UploadedAt,
	}, nil
}

// store resolves img to a Drive file: an index hit never transfers bytes again.
func (u *Uploader) store(ctx context.Context, img *Image, name string, idx *artifact.DedupeIndex) (artifact.IndexEntry, string, error) {
	if e, ok := idx.Lookup(img.SHA256); ok {
		if e.UploadedAt.IsZero() {
			e.UploadedAt = u.now().UTC()
		}
		if u.mode != ModeRename || e.FileName == name {
			return e, artifact.ActionReused, nil
		}

		renamed, err := u.rename(ctx, e.FileID, name)
		if err != nil {
			u.logger.WithError(err).WithField("sha", img.SHA256).Warn("rename failed, reusing stored file")
			return e, artifact.ActionReused, nil
		}
		e.FileName = name
		if renamed.URL != "" {
			e.URL = renamed.URL
		}
		idx.Put(img.SHA256, e)
		return e, artifact.ActionRenamed, nil
	}

	folderID, err := u.ensureFolder(ctx)
	if err != nil {
		return artifact.IndexEntry{}, "", err
	}
	file, err := u.drive.Upload(ctx, folderID, name, img.Data)
	if err != nil {
		return artifact.IndexEntry{}, "", err
	}
	if file.ID == "" {
		return artifact.IndexEntry{}, "", fmt.Errorf("upload %s: server returned no file id", name)
	}

	e := artifact.IndexEntry{
		FileID:     file.ID,
		FileName:   name,
		URL:        file.URL,
		UploadedAt: u.now().UTC(),
	}
	if file.Name != "" {
		e.FileName = file.Name
	}
	idx.Put(img.SHA256, e)
	return e, artifact.ActionUploaded, nil
}

func (u *Uploader) rename(ctx context.Context, fileID, name string) (sharkey.DriveFile, error) {
	folderID, err := u.ensureFolder(ctx)
	if err != nil {
		return sharkey.DriveFile{}, err
	}
	return u.drive.Rename(ctx, fileID, name, folderID)
}

func (u *Uploader) ensureFolder(ctx context.Context) (string, error) {
	if u.folderID != "" {
		return u.folderID, nil
	}
	id, err := u.drive.EnsureFolder(ctx, u.folder)
	if err != nil {
		return "", fmt.Errorf("ensure folder %q: %w", u.folder, err)
	}
	u.folderID = id
	return id, nil
}

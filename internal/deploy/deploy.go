// Package deploy backs the USB tools: it finds removable drives, copies
// the SubZero tree onto one, and downloads a fresh copy of the source
// from GitHub.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	gogithub "github.com/google/go-github/v69/github"

	"github.com/nugget/subzero/internal/httpkit"
)

// ErrNoDrive is returned when no removable drive is mounted.
var ErrNoDrive = errors.New("no USB drive detected; plug in a USB stick and try again")

// DirName is the folder created on a drive.
const DirName = "SubZero"

const cloneTimeout = 120 * time.Second

// Config controls the deployer.
type Config struct {
	// SourceDir is copied by DeployToUSB. Empty means the directory of
	// the running executable.
	SourceDir  string
	MountRoots []string
	Owner      string
	Repo       string
	Ref        string
	Token      string
	// Git is the git binary; empty means "git" on PATH.
	Git string
}

// Deployer performs USB deployment and source downloads.
type Deployer struct {
	cfg    Config
	gh     *gogithub.Client
	http   *http.Client
	logger *slog.Logger
}

// New creates a deployer.
func New(cfg Config, logger *slog.Logger) *Deployer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Git == "" {
		cfg.Git = "git"
	}
	if cfg.Ref == "" {
		cfg.Ref = "main"
	}
	httpClient := httpkit.NewClient(httpkit.WithTimeout(5 * time.Minute))
	gh := gogithub.NewClient(httpClient)
	if cfg.Token != "" {
		gh = gh.WithAuthToken(cfg.Token)
	}
	return &Deployer{cfg: cfg, gh: gh, http: httpClient, logger: logger}
}

// Drives lists mounted removable drives.
func (d *Deployer) Drives(ctx context.Context) ([]Drive, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return DetectDrives(d.cfg.MountRoots)
}

// Deployment describes a completed copy or download.
type Deployment struct {
	Dest   string `json:"dest"`
	Files  int    `json:"files"`
	Method string `json:"method"`
}

// DeployToUSB copies the source tree to <drive>/SubZero. An empty drive
// picks the first detected one.
func (d *Deployer) DeployToUSB(ctx context.Context, drive string) (*Deployment, error) {
	if drive == "" {
		drives, err := d.Drives(ctx)
		if err != nil {
			return nil, err
		}
		if len(drives) == 0 {
			return nil, ErrNoDrive
		}
		drive = drives[0].Path
	} else if _, err := os.Stat(drive); err != nil {
		return nil, fmt.Errorf("drive %s not found; is the USB plugged in?", drive)
	}

	src := d.cfg.SourceDir
	if src == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate source: %w", err)
		}
		src = filepath.Dir(exe)
	}

	dest := filepath.Join(drive, DirName)
	files, err := CopyTree(src, dest)
	if err != nil {
		return nil, fmt.Errorf("deploy to %s: %w", dest, err)
	}
	d.logger.Info("deployed to drive", "dest", dest, "files", files)
	return &Deployment{Dest: dest, Files: files, Method: "copy"}, nil
}

// Download fetches the source into dest. With an empty dest the copy
// goes to the first USB drive when toUSB is set, otherwise to
// ~/Downloads/SubZero. A shallow git clone is tried first; the GitHub
// zipball is the fallback.
func (d *Deployer) Download(ctx context.Context, dest string, toUSB bool, ref string) (*Deployment, error) {
	if ref == "" {
		ref = d.cfg.Ref
	}
	if dest == "" {
		if toUSB {
			drives, err := d.Drives(ctx)
			if err != nil {
				return nil, err
			}
			if len(drives) == 0 {
				return nil, fmt.Errorf("%w; specify destination= instead", ErrNoDrive)
			}
			dest = filepath.Join(drives[0].Path, DirName)
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("resolve home: %w", err)
			}
			dest = filepath.Join(home, "Downloads", DirName)
		}
	}

	err := d.clone(ctx, dest, ref)
	if err == nil {
		return &Deployment{Dest: dest, Files: CountFiles(dest), Method: "git"}, nil
	}
	d.logger.Info("git clone failed, falling back to archive", "error", err)

	files, err := d.downloadArchive(ctx, dest, ref)
	if err != nil {
		return nil, err
	}
	return &Deployment{Dest: dest, Files: files, Method: "archive"}, nil
}

func (d *Deployer) clone(ctx context.Context, dest, ref string) error {
	if _, err := exec.LookPath(d.cfg.Git); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, cloneTimeout)
	defer cancel()

	repoURL := fmt.Sprintf("https://github.com/%s/%s.git", d.cfg.Owner, d.cfg.Repo)
	cmd := exec.CommandContext(ctx, d.cfg.Git, "clone", "--depth", "1", "--branch", ref, repoURL, dest)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone: %w: %s", err, out)
	}
	return nil
}

func (d *Deployer) downloadArchive(ctx context.Context, dest, ref string) (int, error) {
	link, resp, err := d.gh.Repositories.GetArchiveLink(ctx, d.cfg.Owner, d.cfg.Repo,
		gogithub.Zipball, &gogithub.RepositoryContentGetOptions{Ref: ref}, 3)
	if err != nil {
		return 0, fmt.Errorf("resolve archive link: %w", err)
	}
	if resp != nil && resp.Rate.Limit > 0 && resp.Rate.Remaining < 10 {
		d.logger.Warn("github rate limit low", "remaining", resp.Rate.Remaining, "reset", resp.Rate.Reset.Time)
	}

	tmp, err := os.CreateTemp("", "subzero-*.zip")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link.String(), nil)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	r, err := d.http.Do(req)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("download archive: %w", err)
	}
	defer r.Body.Close()
	if err := httpkit.CheckResponse(r); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("download archive: %w", err)
	}
	if _, err := io.Copy(tmp, r.Body); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("download archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}

	files, err := extractZip(tmp.Name(), dest)
	if err != nil {
		return files, fmt.Errorf("extract archive: %w", err)
	}
	d.logger.Info("downloaded source archive", "dest", dest, "ref", ref, "files", files)
	return files, nil
}

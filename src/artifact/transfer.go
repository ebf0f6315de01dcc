package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/explosion/wheelwright/src/provider"
)

// FixWheelName rewrites the Python 3.8 Windows ABI tag that older build
// tools emit ("cp38m-win") to the one installers accept ("cp38-win").
func FixWheelName(name string) string {
	return strings.Replace(name, "cp38m-win", "cp38-win", 1)
}

// fixWheelFile renames path on disk if its name needs fixing.
func fixWheelFile(path string) (string, error) {
	dir, name := filepath.Split(path)
	fixed := FixWheelName(name)
	if fixed == name {
		return path, nil
	}
	target := filepath.Join(dir, fixed)
	if err := os.Rename(path, target); err != nil {
		return "", fmt.Errorf("rename %s: %w", path, err)
	}
	return target, nil
}

// ExpandPaths turns directories into the *.whl files directly inside them
// and passes plain files through, preserving argument order.
func ExpandPaths(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(p, "*.whl"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		out = append(out, matches...)
	}
	return out, nil
}

// FileError is a per-file transfer failure.
type FileError struct {
	Path string
	Err  error
}

// UploadReport lists uploaded assets in input order and any failures.
type UploadReport struct {
	Uploaded []Asset
	Failed   []FileError
}

// Upload attaches files to a release. Directories contribute their *.whl
// files. A failing file does not stop the batch; the returned error wraps
// ErrUpload when anything failed.
func (s *Store) Upload(ctx context.Context, releaseID string, paths []string) (UploadReport, error) {
	files, err := ExpandPaths(paths)
	if err != nil {
		return UploadReport{}, err
	}

	release, err := s.api.GetReleaseByTag(ctx, s.repo, releaseID)
	if err != nil {
		return UploadReport{}, fmt.Errorf("get release %s: %w", releaseID, err)
	}

	type result struct {
		asset Asset
		err   error
	}
	results := make([]result, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, path := range files {
		g.Go(func() error {
			fixed, err := fixWheelFile(path)
			if err != nil {
				results[i] = result{asset: Asset{Path: path}, err: err}
				return nil
			}
			s.logger.Info("Uploading: %s", fixed)
			a, err := s.api.UploadReleaseAsset(gctx, release.UploadURL, filepath.Base(fixed), fixed)
			if err != nil {
				s.logger.Error("upload %s: %v", fixed, err)
				results[i] = result{asset: Asset{Path: fixed}, err: err}
				return nil
			}
			asset := fromGitHub(*a)
			asset.Path = fixed
			s.logger.Info("%s %d %s", a.Name, a.ID, a.State)
			results[i] = result{asset: asset}
			return nil
		})
	}
	_ = g.Wait()

	var report UploadReport
	for _, r := range results {
		if r.err != nil {
			report.Failed = append(report.Failed, FileError{Path: r.asset.Path, Err: r.err})
			continue
		}
		report.Uploaded = append(report.Uploaded, r.asset)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	if len(report.Failed) > 0 {
		return report, fmt.Errorf("%w: %d of %d files", provider.ErrUpload, len(report.Failed), len(files))
	}
	return report, nil
}

// DownloadReport lists downloaded assets sorted by name and any failures.
type DownloadReport struct {
	Dir        string
	Downloaded []Asset
	Failed     []FileError
}

// DownloadAll saves every asset of a release into root/<releaseID>. Files
// are written as .part and renamed when complete, so a partial run leaves
// only whole files behind.
func (s *Store) DownloadAll(ctx context.Context, releaseID, root string) (DownloadReport, error) {
	dir := filepath.Join(root, releaseID)
	report := DownloadReport{Dir: dir}

	assets, err := s.ListAssets(ctx, releaseID)
	if err != nil {
		return report, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return report, fmt.Errorf("create %s: %w", dir, err)
	}

	sort.Slice(assets, func(i, j int) bool { return assets[i].Name < assets[j].Name })
	errs := make([]error, len(assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range assets {
		g.Go(func() error {
			s.logger.Info("  - %s", assets[i].Name)
			path, err := s.download(gctx, assets[i], dir)
			if err != nil {
				s.logger.Error("download %s: %v", assets[i].Name, err)
				errs[i] = err
				return nil
			}
			assets[i].Path = path
			return nil
		})
	}
	_ = g.Wait()

	for i, a := range assets {
		if errs[i] != nil {
			report.Failed = append(report.Failed, FileError{Path: filepath.Join(dir, a.Name), Err: errs[i]})
			continue
		}
		report.Downloaded = append(report.Downloaded, a)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	if len(report.Failed) > 0 {
		return report, fmt.Errorf("%w: %d of %d assets", provider.ErrPartialDownload, len(report.Failed), len(assets))
	}
	return report, nil
}

func (s *Store) download(ctx context.Context, a Asset, dir string) (string, error) {
	target := filepath.Join(dir, filepath.Base(a.Name))
	part := target + ".part"

	f, err := os.Create(part)
	if err != nil {
		return "", err
	}
	if _, err := s.api.DownloadAsset(ctx, a.DownloadURL, f); err != nil {
		f.Close()
		os.Remove(part)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(part)
		return "", err
	}
	if err := os.Rename(part, target); err != nil {
		return "", err
	}
	return target, nil
}

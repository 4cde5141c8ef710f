package cmd

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/ulikunitz/xz"
	"gopkg.in/yaml.v3"

	"github.com/wiztk/libskia/pkg"
)

const (
	depsFile  = "DEPS.yml"
	stampFile = "DEPS.stamps"
)

type depSpec struct {
	Condition  string `yaml:"if,omitempty"`
	Rejections string `yaml:"ifNot,omitempty"`
	URL        string
	Dest       string
	Sha256     string
	Strip      int
	MarkExec   []string `yaml:"markExec,omitempty"`
}

type depConfig struct {
	Vars map[string]string
	Deps map[string]depSpec
}

var fetchDepsCmd = &cobra.Command{
	Use:   "fetch-deps",
	Short: "Downloads and unpacks dependencies",
	Long: `Downloads and unpacks the dependencies listed in DEPS.yml in the project root (usually depot_tools
and the Skia checkout). Dependencies which were already extracted and didn't change are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pkg.PrintTask("Loading config")
		root, err := findRoot(cmd)
		if err != nil {
			return err
		}

		update, err := cmd.Flags().GetBool("update")
		if err != nil {
			return err
		}

		f, err := newDepFetcher(root)
		if err != nil {
			return err
		}
		f.update = update
		f.showProgress = os.Getenv("CI") != "true"
		if !f.showProgress {
			f.vars["ci"] = "true"
		}

		pkg.PrintTask("Downloading dependencies")
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		err = f.fetch(ctx)
		if sErr := f.saveStamps(); sErr != nil {
			pkg.PrintError(sErr.Error())
		}
		if err != nil {
			return err
		}

		pkg.PrintTask("Done")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchDepsCmd)
	fetchDepsCmd.Flags().BoolP("update", "u", false, "Update checksums")
}

type depFetcher struct {
	root         string
	cfg          depConfig
	cfgData      string
	stamps       map[string]string
	vars         map[string]string
	client       *http.Client
	update       bool
	showProgress bool
	// checksums which changed during an update run
	changes map[string]string
}

func newDepFetcher(projectRoot string) (*depFetcher, error) {
	cfg, cfgData, stamps, err := getConfig(projectRoot)
	if err != nil {
		return nil, err
	}

	vars := map[string]string{}
	for k, v := range cfg.Vars {
		vars[k] = v
	}
	vars[runtime.GOARCH] = "true"
	vars[runtime.GOOS] = "true"
	vars[pkg.HostArch()] = "true"

	return &depFetcher{
		root:    projectRoot,
		cfg:     cfg,
		cfgData: cfgData,
		stamps:  stamps,
		vars:    vars,
		client: &http.Client{
			Timeout: time.Minute * 30,
		},
		changes: map[string]string{},
	}, nil
}

func (f *depFetcher) progressBar(length int64, desc string) *progressbar.ProgressBar {
	if !f.showProgress {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

func getConfig(projectRoot string) (depConfig, string, map[string]string, error) {
	var cfg depConfig
	cfgPath := filepath.Join(projectRoot, depsFile)
	cfgData, err := ioutil.ReadFile(cfgPath)
	if err != nil {
		return cfg, "", nil, eris.Wrapf(err, "Could not open file %s.", cfgPath)
	}

	err = yaml.Unmarshal(cfgData, &cfg)
	if err != nil {
		return cfg, "", nil, eris.Wrapf(err, "Failed to parse %s.", cfgPath)
	}

	stamps := map[string]string{}
	stampPath := filepath.Join(projectRoot, stampFile)
	stampData, err := ioutil.ReadFile(stampPath)
	if err != nil {
		if !eris.Is(err, os.ErrNotExist) {
			return cfg, "", nil, eris.Wrapf(err, "Failed to read stamps file %s.", stampPath)
		}
	} else {
		err = json.Unmarshal(stampData, &stamps)
		if err != nil {
			return cfg, "", nil, eris.Wrapf(err, "Failed to parse JSON file %s.", stampPath)
		}
	}

	return cfg, string(cfgData), stamps, nil
}

func (f *depFetcher) saveStamps() error {
	stampPath := filepath.Join(f.root, stampFile)
	data, err := json.MarshalIndent(f.stamps, "", "  ")
	if err != nil {
		return eris.Wrap(err, "Failed to encode stamps")
	}

	err = ioutil.WriteFile(stampPath, data, 0644)
	if err != nil {
		return eris.Wrapf(err, "Failed to write %s", stampPath)
	}
	return nil
}

var varMatcher = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// evalConditions substitutes {VAR} placeholders in the URL and reports whether the dependency applies to this
// host. Every variable listed in "if" has to be set and every variable listed in "ifNot" has to be unset.
func evalConditions(meta *depSpec, vars map[string]string) bool {
	meta.URL = varMatcher.ReplaceAllStringFunc(meta.URL, func(varName string) string {
		return vars[varName[1:len(varName)-1]]
	})

	for _, condition := range strings.Split(meta.Condition, ",") {
		condition = strings.TrimSpace(condition)
		if condition == "" {
			continue
		}

		if vars[condition] == "" {
			return false
		}
	}

	for _, condition := range strings.Split(meta.Rejections, ",") {
		condition = strings.TrimSpace(condition)
		if condition == "" {
			continue
		}

		if vars[condition] != "" {
			return false
		}
	}
	return true
}

func (f *depFetcher) fetch(ctx context.Context) error {
	names := make([]string, 0, len(f.cfg.Deps))
	for name := range f.cfg.Deps {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "Interrupted")
		}

		err := f.fetchDep(ctx, name, f.cfg.Deps[name])
		if err != nil {
			return eris.Wrapf(err, "Failed to fetch %s", name)
		}
	}

	if f.update && len(f.changes) > 0 {
		pkg.PrintTask("Updating " + depsFile)
		return f.writeChecksums()
	}

	return nil
}

func (f *depFetcher) fetchDep(ctx context.Context, name string, meta depSpec) error {
	// Conditions are evaluated even during updates since they also substitute the URL placeholders.
	skip := !evalConditions(&meta, f.vars)
	if skip && !f.update {
		return nil
	}

	destPath := filepath.Join(f.root, meta.Dest)
	destInfo, err := os.Stat(destPath)
	destExists := err == nil

	stampToken := meta.URL + "#" + meta.Sha256
	if stamp, ok := f.stamps[name]; ok && stampToken == stamp && destExists && !f.update {
		return nil
	}

	pkg.PrintSubtask(name + ":  " + meta.URL)
	if meta.Sha256 == "" && !f.update {
		return eris.Errorf("Dependency %s doesn't have a checksum, run fetch-deps --update to add it", name)
	}

	tmp, err := ioutil.TempFile(f.root, "deps_dl*.tmp")
	if err != nil {
		return eris.Wrap(err, "Failed to create temporary download file")
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	size, digest, err := f.download(ctx, meta.URL, tmp)
	if err != nil {
		return err
	}

	if digest != meta.Sha256 {
		if !f.update {
			return eris.Errorf("Checksum check failed: expected %s but got %s", meta.Sha256, digest)
		}
		pkg.PrintSubtask("Updating checksum")
		f.changes[name] = digest
		stampToken = meta.URL + "#" + digest
	}

	if skip {
		return nil
	}

	if destExists {
		pkg.PrintSubtask("Remove " + destPath)
		if destInfo.IsDir() {
			err = os.RemoveAll(destPath)
		} else {
			err = os.Remove(destPath)
		}
		if err != nil {
			return eris.Wrapf(err, "Failed to remove %s", destPath)
		}
	}

	extractor, err := getExtractor(meta.URL)
	if err != nil {
		return err
	}

	_, err = tmp.Seek(0, io.SeekStart)
	if err != nil {
		return eris.Wrap(err, "Failed to rewind download")
	}

	bar := f.progressBar(size, "      extract")
	err = extractor(tmp, bar, destPath, meta)
	if err != nil {
		return err
	}
	bar.Finish()

	if runtime.GOOS != "windows" {
		// .zip files don't carry permissions
		for _, binPath := range meta.MarkExec {
			binPath = filepath.Join(destPath, binPath)
			fi, err := os.Stat(binPath)
			if err != nil {
				return eris.Wrapf(err, "Failed to read permissions for %s", binPath)
			}

			err = os.Chmod(binPath, fi.Mode()|0700)
			if err != nil {
				return eris.Wrapf(err, "Failed to mark %s as executable", binPath)
			}
		}
	}

	f.stamps[name] = stampToken
	return nil
}

// download writes the response body for url into dest and returns its size and SHA-256 digest
func (f *depFetcher) download(ctx context.Context, url string, dest io.Writer) (int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", eris.Wrapf(err, "Invalid URL %s", url)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, "", eris.Wrapf(err, "Failed to start download for %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, "", eris.Errorf("Download of %s failed with status %s", url, resp.Status)
	}

	hash := sha256.New()
	bar := f.progressBar(resp.ContentLength, "     download")
	size, err := io.Copy(io.MultiWriter(dest, hash, bar), resp.Body)
	if err != nil {
		return 0, "", eris.Wrapf(err, "Failed during download of %s", url)
	}
	bar.Finish()

	return size, hex.EncodeToString(hash.Sum(nil)), nil
}

// writeChecksums replaces the sha256 lines of the changed dependencies in DEPS.yml. The file is edited as text to
// preserve its comments and layout.
func (f *depFetcher) writeChecksums() error {
	lines := strings.Split(f.cfgData, "\n")
	section := ""
	sectionIndent := -1
	written := map[string]bool{}

	result := make([]string, 0, len(lines)+len(f.changes))
	flushMissing := func() {
		if section == "" || written[section] {
			return
		}
		if digest, ok := f.changes[section]; ok {
			result = append(result, strings.Repeat(" ", sectionIndent+2)+"sha256: "+digest)
			written[section] = true
		}
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		indent := len(line) - len(strings.TrimLeft(line, " "))

		if strings.HasSuffix(trimmed, ":") && !strings.Contains(trimmed, " ") {
			key := strings.TrimSuffix(trimmed, ":")
			if _, ok := f.cfg.Deps[key]; ok {
				flushMissing()
				result = append(result, line)
				section = key
				sectionIndent = indent
				continue
			}
		}

		if section != "" && trimmed != "" && indent <= sectionIndent {
			flushMissing()
			section = ""
		}

		if digest, ok := f.changes[section]; ok && strings.HasPrefix(trimmed, "sha256:") {
			result = append(result, line[:indent]+"sha256: "+digest)
			written[section] = true
			continue
		}

		result = append(result, line)
	}
	flushMissing()

	cfgPath := filepath.Join(f.root, depsFile)
	err := ioutil.WriteFile(cfgPath, []byte(strings.Join(result, "\n")), 0644)
	if err != nil {
		return eris.Wrapf(err, "Failed to write %s", cfgPath)
	}
	return nil
}

type archiveExtractor func(*os.File, *progressbar.ProgressBar, string, depSpec) error

// extractorDest maps an archive entry to its destination after stripping ds.Strip leading path elements.
// An empty string means the entry was stripped away completely.
func extractorDest(destPath, item string, ds depSpec) (string, error) {
	pathParts := strings.Split(filepath.Clean(filepath.FromSlash(item)), string(filepath.Separator))
	if len(pathParts) <= ds.Strip {
		return "", nil
	}

	dest := filepath.Join(destPath, filepath.Join(pathParts[ds.Strip:]...))
	if dest == destPath {
		return "", nil
	}

	if !strings.HasPrefix(dest, filepath.Clean(destPath)+string(filepath.Separator)) {
		return "", eris.Errorf("Archive entry %s points outside of %s", item, destPath)
	}

	destParent := filepath.Dir(dest)
	err := os.MkdirAll(destParent, 0755)
	if err != nil {
		return "", eris.Wrapf(err, "Failed to create directory %s", destParent)
	}

	return dest, nil
}

func writeEntry(dest string, mode os.FileMode, r io.Reader, f *os.File, bar *progressbar.ProgressBar) error {
	destHandle, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode|0600)
	if err != nil {
		return eris.Wrapf(err, "Failed to create file %s", dest)
	}
	defer destHandle.Close()

	_, err = io.Copy(destHandle, r)
	if err != nil {
		return eris.Wrapf(err, "Failed to write extracted file %s", dest)
	}

	if pos, err := f.Seek(0, io.SeekCurrent); err == nil {
		bar.Set64(pos)
	}

	return destHandle.Close()
}

func getExtractor(url string) (archiveExtractor, error) {
	switch {
	case strings.HasSuffix(url, ".zip"):
		return extractZip, nil
	case strings.HasSuffix(url, ".tar.gz"), strings.HasSuffix(url, ".tgz"):
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, ds depSpec) error {
			reader, err := gzip.NewReader(f)
			if err != nil {
				return eris.Wrap(err, "Failed to open gzip stream")
			}
			defer reader.Close()

			return extractTar(reader, f, bar, destPath, ds)
		}, nil
	case strings.HasSuffix(url, ".tar.bz2"):
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, ds depSpec) error {
			return extractTar(bzip2.NewReader(f), f, bar, destPath, ds)
		}, nil
	case strings.HasSuffix(url, ".tar.xz"):
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, ds depSpec) error {
			reader, err := xz.NewReader(f)
			if err != nil {
				return eris.Wrap(err, "Failed to open xz stream")
			}

			return extractTar(reader, f, bar, destPath, ds)
		}, nil
	}

	return nil, eris.Errorf("Archive format of %s not supported", url)
}

func extractZip(f *os.File, bar *progressbar.ProgressBar, destPath string, ds depSpec) error {
	stat, err := f.Stat()
	if err != nil {
		return err
	}

	archive, err := zip.NewReader(f, stat.Size())
	if err != nil {
		return eris.Wrap(err, "Failed to open zip archive")
	}

	for _, item := range archive.File {
		if strings.HasSuffix(item.Name, "/") {
			continue
		}

		dest, err := extractorDest(destPath, item.Name, ds)
		if err != nil {
			return err
		}
		if dest == "" {
			continue
		}

		itemHandle, err := item.Open()
		if err != nil {
			return eris.Wrapf(err, "Failed to open archive entry %s", item.Name)
		}

		err = writeEntry(dest, item.Mode().Perm(), itemHandle, f, bar)
		itemHandle.Close()
		if err != nil {
			return err
		}
	}

	return nil
}

func extractTar(r io.Reader, f *os.File, bar *progressbar.ProgressBar, destPath string, ds depSpec) error {
	archive := tar.NewReader(r)

	for {
		item, err := archive.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return eris.Wrap(err, "Failed to read archive entry")
		}

		switch item.Typeflag {
		case tar.TypeReg, tar.TypeSymlink:
		default:
			continue
		}

		dest, err := extractorDest(destPath, item.Name, ds)
		if err != nil {
			return err
		}
		if dest == "" {
			continue
		}

		if item.Typeflag == tar.TypeSymlink {
			os.Remove(dest)
			err = os.Symlink(item.Linkname, dest)
			if err != nil {
				return eris.Wrapf(err, "Failed to create symlink %s pointing to %s", dest, item.Linkname)
			}
			continue
		}

		err = writeEntry(dest, item.FileInfo().Mode().Perm(), archive, f, bar)
		if err != nil {
			return err
		}
	}

	return nil
}

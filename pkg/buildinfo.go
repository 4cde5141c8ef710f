package pkg

import (
	"io/ioutil"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// GitRevision returns the commit hash HEAD points to in the checkout rooted at dir. An empty string is returned
// if dir isn't the root of a git checkout; parent repositories are ignored.
func GitRevision(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: false})
	if err != nil {
		if eris.Is(err, git.ErrRepositoryNotExists) {
			return "", nil
		}
		return "", eris.Wrapf(err, "Failed to open repository at %s", dir)
	}

	head, err := repo.Head()
	if eris.Is(err, plumbing.ErrReferenceNotFound) {
		// empty repository
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "Failed to resolve HEAD in %s", dir)
	}

	return head.Hash().String(), nil
}

// WriteBuildInfo writes the passed key=value pairs as a YAML document to dest. The order of the pairs is preserved.
func WriteBuildInfo(dest string, pairs []string) error {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	for _, pair := range pairs {
		pos := strings.Index(pair, "=")
		if pos < 1 {
			return eris.Errorf("Expected key=value but got %s", pair)
		}

		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: pair[:pos]},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: pair[pos+1:]},
		)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "Failed to encode build info")
	}

	err = ioutil.WriteFile(dest, data, 0644)
	if err != nil {
		return eris.Wrapf(err, "Failed to write %s", dest)
	}

	return nil
}

// ReadBuildInfo parses a file written by WriteBuildInfo
func ReadBuildInfo(src string) (map[string]string, error) {
	data, err := ioutil.ReadFile(src)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to read %s", src)
	}

	result := map[string]string{}
	err = yaml.Unmarshal(data, &result)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to parse %s", src)
	}

	return result, nil
}

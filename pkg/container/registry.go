package container

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	digestHeader        = "Docker-Content-Digest"
	manifestV2MediaType = "application/vnd.docker.distribution.manifest.v2+json"
)

// Resolver resolves a container reference (e.g. "biocontainers/bwa:0.7.17")
// to a content digest, so dependency manifests can pin exact images.
type Resolver interface {
	Digest(ref string) (string, error)
}

// DockerHub resolves digests against the Docker Hub registry using anonymous
// pull tokens. RegistryURL/AuthURL are overridable for tests.
type DockerHub struct {
	Client      *http.Client
	RegistryURL string
	AuthURL     string
}

func NewDockerHub() *DockerHub {
	return &DockerHub{
		Client:      &http.Client{Timeout: 15 * time.Second},
		RegistryURL: "https://registry.hub.docker.com",
		AuthURL:     "https://auth.docker.io/token",
	}
}

func (d *DockerHub) Digest(ref string) (string, error) {
	repo, tag := splitRef(ref)
	token, err := d.token(repo)
	if err != nil {
		return "", fmt.Errorf("token for %s: %w", ref, err)
	}

	url := fmt.Sprintf("%s/v2/%s/manifests/%s", d.RegistryURL, repo, tag)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", manifestV2MediaType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("manifest for %s: %w", ref, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("manifest for %s: status %d", ref, resp.StatusCode)
	}
	digest := resp.Header.Get(digestHeader)
	if digest == "" {
		digest = strings.Trim(resp.Header.Get("ETag"), `"`)
	}
	if digest == "" {
		return "", fmt.Errorf("no digest header for %s", ref)
	}
	return digest, nil
}

func (d *DockerHub) token(repo string) (string, error) {
	url := fmt.Sprintf("%s?service=registry.docker.io&scope=repository:%s:pull", d.AuthURL, repo)
	resp, err := d.Client.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.Token, nil
}

// splitRef separates repository and tag; official images live under
// "library/" and an untagged reference means "latest".
func splitRef(ref string) (repo, tag string) {
	repo, tag = ref, "latest"
	if i := strings.LastIndex(ref, ":"); i > 0 && !strings.Contains(ref[i:], "/") {
		repo, tag = ref[:i], ref[i+1:]
	}
	if !strings.Contains(repo, "/") {
		repo = "library/" + repo
	}
	return repo, tag
}

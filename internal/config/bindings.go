package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/GroupLang/agent-market-client/internal/constants"
	"github.com/GroupLang/agent-market-client/internal/githubapi"
	"github.com/GroupLang/agent-market-client/internal/models"
)

type bindingsFile struct {
	Repositories []models.RepositoryBinding `yaml:"repositories"`
}

// LoadRepositoryBindings reads the repositories the CLI keeps bound:
//
//	repositories:
//	  - repo_url: https://github.com/acme/widgets
//	    default_reward: 25
//	    reward_share_percentage: 100
func LoadRepositoryBindings(path string) ([]models.RepositoryBinding, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f bindingsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	seen := map[string]bool{}
	for i := range f.Repositories {
		b := &f.Repositories[i]
		if _, _, err := githubapi.ParseRepoURL(b.RepoURL); err != nil {
			return nil, fmt.Errorf("%s: repositories[%d]: %w", path, i, err)
		}
		if seen[b.RepoURL] {
			return nil, fmt.Errorf("%s: repository %s listed twice", path, b.RepoURL)
		}
		seen[b.RepoURL] = true
		if b.DefaultReward < 0 {
			return nil, fmt.Errorf("%s: repositories[%d]: default_reward must not be negative", path, i)
		}
		if b.RewardSharePercentage == 0 {
			b.RewardSharePercentage = constants.DefaultRewardSharePercentage
		}
		if b.RewardSharePercentage < 0 || b.RewardSharePercentage > 100 {
			return nil, fmt.Errorf("%s: repositories[%d]: reward_share_percentage must be within 0..100", path, i)
		}
	}
	return f.Repositories, nil
}

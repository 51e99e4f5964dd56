package service

import "github.com/maheshrc27/postcraft/internal/repository"

// Repositories is the persistence surface shared by the services. Both the
// Postgres repositories and the in-memory store provide every field.
type Repositories struct {
	Posts     repository.PostRepository
	Accounts  repository.SocialAccountRepository
	Assets    repository.MediaAssetRepository
	PostMedia repository.PostMediaRepository
	Selected  repository.SelectedAccountRepository
	Records   repository.PublishRecordRepository
	Jobs      repository.JobRepository
	Metrics   repository.MetricsRepository
	Tx        repository.Transactor
}

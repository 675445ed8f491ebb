// Package webhook receives repository-created events from GitHub and GitLab
// and turns them into Jenkins builds that provision the matching Harness
// project.
//
// A Server is built from an explicit Config:
//
//	srv, err := webhook.NewServer(webhook.Config{
//		Listen:       ":5000",
//		GitHubSecret: secret,
//		Jenkins: webhook.JenkinsConfig{
//			URL:   "https://jenkins.example.com",
//			User:  "automation",
//			Token: token,
//			Job:   "harness-automation",
//		},
//	}, nil, tel)
//	if err != nil {
//		return err
//	}
//	return srv.ListenAndServe(ctx)
//
// Routes:
//
//	POST /webhook/github   X-Hub-Signature-256 HMAC, repository/created
//	POST /webhook/gitlab   X-Gitlab-Token, Project Create Hook
//	POST /webhook/manual   {"project_name": "...", "description": "..."}
//	GET  /health
//	GET  /metrics
//
// Deliveries with a bad signature or token get 401. Events other than
// repository creation are acknowledged with status "ignored".
package webhook

// Package webhook receives signed repository events and starts the
// configured workflows for them.
//
// Every endpoint verifies an HMAC signature over the raw body before it looks
// at the payload. GitHub's "sha256=<hex>" and "sha1=<hex>" forms are accepted,
// as is a bare hex digest. Failures always answer a generic 403.
//
//	webhooks:
//	  listen: "127.0.0.1:8091"
//	  endpoints:
//	    - path: /github
//	      secret: ${GITHUB_WEBHOOK_SECRET}
//	      signature_header: X-Hub-Signature-256
//	      event_header: X-GitHub-Event
//	      max_body_size: 1MB
//	      workflows:
//	        - .github/workflows/ci.yml
//
// A verified delivery is mapped onto orchestrator.Options (event, ref, sha,
// repository, actor and the decoded payload as github.event) and each
// workflow is started. Workflows whose triggers do not match the event are
// skipped. The response is 202 with the started run ids, or 200 with an
// empty list when nothing matched. A "ping" delivery is acknowledged without
// starting anything.
package webhook

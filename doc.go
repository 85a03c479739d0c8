/*
Package openqalocal provides a local cache-and-fetch layer for openQA job
metadata and log artifacts.

It sits in front of one openQA instance, keeping job details and per-job log
listings in TTL-governed JSON sidecar files and downloaded log files on disk,
so repeated lookups avoid redundant round trips to the remote service.

# Core Architecture

The package is built from three small pieces:

  - Cache - per-(host, job) sidecar files plus a per-job directory of raw
    log files, under a single cache root
  - Client - a resilient API client that negotiates HTTPS vs HTTP once,
    classifies failures, and streams log content to disk
  - Service - the coordinator tying both together: cache-first reads,
    write-through on fetch, and completion gating for log access

# Cache Layout

	<root>/<host>/<job>.json             sidecar: job_details + log_files
	<root>/<host>/<job>/<filename>       raw bytes of one log artifact

Sidecar freshness is governed by a single TTL: a negative TTL means entries
never go stale, a zero TTL disables cache reads entirely (writes still
happen), and a positive TTL is a staleness threshold.

# Basic Usage

	svc, err := openqalocal.NewService("openqa.example.org",
		openqalocal.WithCacheDir(".cache"),
		openqalocal.WithTTL(15*time.Minute),
	)
	if err != nil {
		log.Fatal(err)
	}

	details, err := svc.Details(ctx, "4023")
	logs, err := svc.LogList(ctx, "4023", "")
	path, err := svc.LogFilename(ctx, "4023", "autoinst-log.txt")

The cache and client can also be used directly; see Cache and Client.

# Filesystem Abstraction

All disk access goes through afero.Fs, so tests (and embedders) can run the
whole stack against an in-memory filesystem:

	c, err := openqalocal.NewCache(".cache", "openqa.example.org",
		openqalocal.WithFs(afero.NewMemMapFs()))
*/
package openqalocal

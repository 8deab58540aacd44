// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import "errors"

var (
	// ErrNoUpload indicates the submit request carried no codebase file.
	ErrNoUpload = errors.New("no codebase file in request")

	// ErrJobNotTerminal indicates results or follow-up questions were
	// requested before the job finished.
	ErrJobNotTerminal = errors.New("job has not finished yet")

	// ErrNoArtifacts indicates an archive was requested for a job that
	// produced no artifacts.
	ErrNoArtifacts = errors.New("job has no artifacts")
)

// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package output

import (
	"context"
	"fmt"
	"io"
	"os"
)

// StdoutSink writes the batch unchanged.
type StdoutSink struct {
	w io.Writer
}

// NewStdoutSink writes to w, or os.Stdout when w is nil.
func NewStdoutSink(w io.Writer) *StdoutSink {
	if w == nil {
		w = os.Stdout
	}

	return &StdoutSink{w: w}
}

func (s *StdoutSink) Write(_ context.Context, batch []byte) error {
	if len(batch) == 0 {
		return nil
	}

	if _, err := s.w.Write(batch); err != nil {
		return fmt.Errorf("writing to stdout: %w", err)
	}

	return nil
}

func (s *StdoutSink) Close() error {
	return nil
}

// Copyright 2025 Google LLC
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

// Command claudefsd is the ClaudeFS replication daemon: it tails a local
// journal, compacts and compresses batches, fans them out to configured
// peer sites, and exposes health, perf, and audit state over Prometheus
// and the live-config store.
package main

func main() {
	Execute()
}

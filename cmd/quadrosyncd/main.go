/*
Copyright (c) Quadrosync Project Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command quadrosyncd runs or inspects a quadrosync node, in the
// subcommand-per-file shape of ptpcheck/cmd and calnex/cmd.
package main

import "github.com/quadrosync/engine/cmd/quadrosyncd/cmd"

func main() {
	cmd.Execute()
}

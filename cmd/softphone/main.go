/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Command softphone is a console softphone for CRM agents
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}

// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package mattermostfmt_test

import (
	"fmt"

	"github.com/aiku/wa-mattermost-relay/pkg/format/mattermostfmt"
)

func ExampleFormat() {
	fmt.Println(mattermostfmt.Format("**hello** _world_"))
	// Output: *hello* _world_
}

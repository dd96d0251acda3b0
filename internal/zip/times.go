// Copyright Elliot Nunn. Portions copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zip

import (
	"time"

	"github.com/elliotnunn/containercodec/internal/cursor"
)

// msDosTimeToTime converts an MS-DOS date and time into a time.Time.
// The resolution is 2s.
// See: https://learn.microsoft.com/en-us/windows/win32/api/winbase/nf-winbase-dosdatetimetofiletime
func msDosTimeToTime(dosDate, dosTime uint16) time.Time {
	d, t := cursor.Bits(dosDate), cursor.Bits(dosTime)
	return time.Date(
		// date bits 0-4: day of month; 5-8: month; 9-15: years since 1980
		int(d.Field(9, 7)+1980),
		time.Month(d.Field(5, 4)),
		int(d.Field(0, 5)),

		// time bits 0-4: second/2; 5-10: minute; 11-15: hour
		int(t.Field(11, 5)),
		int(t.Field(5, 6)),
		int(t.Field(0, 5)*2),
		0, // nanoseconds

		time.UTC,
	)
}

const ticksPerSecond = 1e7 // Windows timestamp resolution

var ntfsEpoch = time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC)

// ntfsTime converts 100ns ticks since 1601. Zero means unset.
func ntfsTime(ticks uint64) time.Time {
	if ticks == 0 {
		return time.Time{}
	}
	secs := int64(ticks / ticksPerSecond)
	nsecs := int64(ticks%ticksPerSecond) * (1e9 / ticksPerSecond)
	return time.Unix(ntfsEpoch.Unix()+secs, nsecs).UTC()
}

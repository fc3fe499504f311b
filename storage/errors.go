// Copyright 2025 Poiesic Systems
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


package storage

import (
	"fmt"

	"github.com/poiesic/folio/core"
)

var (
	// ErrCollectionNotFound indicates that the requested collection does not exist.
	ErrCollectionNotFound = fmt.Errorf("%w: collection not found", core.ErrStoreUnavailable)

	// ErrStorageClosed indicates that the storage backend is closed.
	ErrStorageClosed = fmt.Errorf("%w: storage is closed", core.ErrStoreUnavailable)

	// ErrInvalidQuery indicates invalid query parameters.
	ErrInvalidQuery = fmt.Errorf("%w: invalid query parameters", core.ErrInput)

	// ErrInvalidRecord indicates a record that cannot be stored.
	ErrInvalidRecord = fmt.Errorf("%w: invalid record", core.ErrInput)

	// ErrSerializationFailed indicates a serialization/deserialization failure.
	ErrSerializationFailed = fmt.Errorf("%w: serialization failed", core.ErrStore)

	// ErrTruncatedData indicates that data was truncated during reading.
	ErrTruncatedData = fmt.Errorf("%w: truncated data", ErrSerializationFailed)
)

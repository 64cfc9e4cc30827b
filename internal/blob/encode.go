// Copyright 2023 The Cockroach Authors
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
//
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"bytes"
	"encoding/json"

	"github.com/hamba/avro/v2/ocf"
	"github.com/pkg/errors"
)

// EncodeAvro writes rows as an Avro object container file using the
// given record schema, preferring logical types per §3. rows are
// encoded generically as maps, which hamba/avro resolves against the
// parsed record schema field-by-field.
func EncodeAvro(schemaJSON string, rows []map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := ocf.NewEncoder(schemaJSON, &buf, ocf.WithCodec(ocf.Snappy))
	if err != nil {
		return nil, errors.Wrap(err, "building avro encoder")
	}
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return nil, errors.Wrap(err, "encoding avro row")
		}
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "closing avro encoder")
	}
	return buf.Bytes(), nil
}

// EncodeJSON writes rows as newline-delimited JSON, the fallback
// format allowed by §4.3 when a column's type has no clean Avro
// logical-type mapping.
func EncodeJSON(rows []map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return nil, errors.Wrap(err, "encoding json row")
		}
	}
	return buf.Bytes(), nil
}

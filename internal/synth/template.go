package synth

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/skyload/skyload-api/internal/models"
	"github.com/skyload/skyload-api/internal/objectstore"
)

var tableNameSanitizer = regexp.MustCompile(`[^A-Z0-9]+`)

// TableNameFor derives the destination table name from the uploaded
// file name: the stem uppercased, non-alphanumerics collapsed to
// underscores, with an ETL_ prefix.
func TableNameFor(originalName string) string {
	stem := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	stem = tableNameSanitizer.ReplaceAllString(strings.ToUpper(stem), "_")
	stem = strings.Trim(stem, "_")
	if stem == "" {
		stem = "DATA"
	}
	return "ETL_" + stem
}

// TemplateScript renders the deterministic fallback loader. The script
// sizes columns itself at run time from the header names and observed
// value lengths, so it needs no profiling input. Credentials are
// referenced, not defined; the config block is injected afterwards.
func TemplateScript(file models.FileDescriptor) string {
	bucket, key, _ := objectstore.ParseLocator(file.StorageLocator)

	localPath := ""
	if bucket == "" {
		localPath = file.StorageLocator
	}

	return fmt.Sprintf(templateBody,
		file.OriginalName, bucket, key, localPath, TableNameFor(file.OriginalName))
}

const templateBody = `#!/usr/bin/env python3
"""ETL loader for %s."""

import csv
import io
import os
import sys

import boto3
import snowflake.connector

SOURCE_BUCKET = "%s"
SOURCE_KEY = "%s"
LOCAL_PATH = "%s"
TABLE_NAME = "%s"

COMMIT_BATCH = 100


def column_length(name):
    lowered = name.lower()
    if lowered == "id" or lowered.endswith("_id") or "code" in lowered or "key" in lowered:
        return 50
    if "name" in lowered or "title" in lowered:
        return 255
    if "description" in lowered or "comment" in lowered or "note" in lowered:
        return 2000
    if "url" in lowered or "link" in lowered:
        return 500
    if "email" in lowered or "phone" in lowered or "address" in lowered:
        return 255
    return 0


def length_for_content(longest):
    if longest <= 255:
        return 255
    if longest <= 1000:
        return 1000
    if longest <= 2000:
        return 2000
    return 4000


def read_source():
    if LOCAL_PATH and os.path.exists(LOCAL_PATH):
        with open(LOCAL_PATH, newline="", encoding="utf-8") as fh:
            return list(csv.reader(fh))
    s3 = boto3.client(
        "s3",
        aws_access_key_id=AWS_CONFIG["aws_access_key_id"],
        aws_secret_access_key=AWS_CONFIG["aws_secret_access_key"],
        region_name=AWS_CONFIG["region_name"],
    )
    obj = s3.get_object(Bucket=SOURCE_BUCKET, Key=SOURCE_KEY)
    body = obj["Body"].read().decode("utf-8")
    return list(csv.reader(io.StringIO(body)))


def main():
    records = read_source()
    if not records:
        print("No data found in source file")
        return 1

    headers = [h.strip() or "col_%%d" %% i for i, h in enumerate(records[0])]
    data = records[1:]
    print("Read %%d rows from source" %% len(data))

    lengths = []
    for i, header in enumerate(headers):
        forced = column_length(header)
        if forced:
            lengths.append(forced)
        else:
            longest = max((len(row[i]) for row in data if i < len(row)), default=0)
            lengths.append(length_for_content(longest))

    conn = snowflake.connector.connect(
        account=SNOWFLAKE_CONFIG["account"],
        user=SNOWFLAKE_CONFIG["user"],
        password=SNOWFLAKE_CONFIG["password"],
        warehouse=SNOWFLAKE_CONFIG["warehouse"],
        database=SNOWFLAKE_CONFIG["database"],
        schema=SNOWFLAKE_CONFIG["schema"],
    )
    cur = conn.cursor()

    columns = ", ".join(
        '"%%s" VARCHAR(%%d)' %% (header.upper(), length)
        for header, length in zip(headers, lengths)
    )
    cur.execute("CREATE OR REPLACE TABLE %%s (%%s)" %% (TABLE_NAME, columns))
    print("Created table %%s" %% TABLE_NAME)

    placeholders = ", ".join(["%%%%s"] * len(headers))
    insert_sql = "INSERT INTO %%s VALUES (%%s)" %% (TABLE_NAME, placeholders)

    inserted = 0
    failed = 0
    error_types = {}
    for i, row in enumerate(data):
        padded = (row + [""] * len(headers))[: len(headers)]
        try:
            cur.execute(insert_sql, padded)
            inserted += 1
        except Exception as e:
            failed += 1
            etype = type(e).__name__
            error_types[etype] = error_types.get(etype, 0) + 1
            if failed <= 5 or failed == 10:
                print("Row %%d failed (%%s): %%s" %% (i + 1, etype, e))
            if failed == 10:
                print("Further row failures suppressed")
        if inserted and inserted %% COMMIT_BATCH == 0:
            conn.commit()
            print("%%d rows remaining" %% (len(data) - i - 1))
    conn.commit()

    cur.execute("SELECT COUNT(*) FROM %%s" %% TABLE_NAME)
    loaded = cur.fetchone()[0]

    print("Successfully inserted %%d rows" %% inserted)
    print("Successful rows: %%d" %% inserted)
    print("Failed rows: %%d" %% failed)
    if error_types:
        print("Error types: %%s" %% error_types)
    print("Successfully loaded %%d rows into %%s" %% (loaded, TABLE_NAME))

    cur.close()
    conn.close()
    return 0 if inserted else 1


if __name__ == "__main__":
    sys.exit(main())
`

package mcpserver

// FormatContract describes the collection file format that LLM consumers
// should follow when reading, creating or replacing notes.
const FormatContract = `# Tape Collection Format Contract

A collection is one UTF-8 JSON file holding an array of note records.

## Record

` + "```" + `json
{
    "body": "Trip\nbook tickets",
    "created_at": "2021-03-04T05:06:07.890000",
    "id": 7,
    "modified_at": "2021-03-04T05:06:07.890000",
    "parent_id": 3,
    "prev_sibling_id": null,
    "tags": ["travel", "travel/europe"]
}
` + "```" + `

## Rules

1. **Every field is required.** ` + "`" + `parent_id` + "`" + ` and ` + "`" + `prev_sibling_id` + "`" + ` may be null but must be present.
2. **Ids** are integers, unique within the collection.
3. **parent_id** is null for a top-level note, else the id of another record.
4. **prev_sibling_id** is null for the first child of a parent, else the id of the
   note directly before this one under the same parent.
5. **Order**: records are written depth-first, parents before children, siblings
   in order. Readers rebuild the tree from the two references, not from the order.
6. **Timestamps** are UTC with microseconds and no zone: ` + "`" + `YYYY-MM-DDTHH:MM:SS.ffffff` + "`" + `.
   ` + "`" + `modified_at` + "`" + ` is never before ` + "`" + `created_at` + "`" + `.
7. **Tags** are non-empty strings without commas. A tag is never repeated on one note.
   Use "/" to build tag paths (` + "`" + `travel/europe` + "`" + `).
8. **Title** is not stored. It is the first non-blank line of the body.

## Rejected collections

A file is rejected as a whole, and the previous version kept, when it has a missing
id or reference, a duplicate id, a reference to an unknown note, two notes claiming
the same previous sibling, or a cycle through parents or siblings.

## Tools

- ` + "`" + `create_note` + "`" + ` takes the body, comma-separated tags and an optional parent id.
  Ids and timestamps are assigned by the server.
- ` + "`" + `import_hotlist` + "`" + ` reads an Opera hotlist. Folders become notes whose children are
  the folder contents; the trash folder is skipped unless ` + "`" + `skip_trash` + "`" + ` is false.
`

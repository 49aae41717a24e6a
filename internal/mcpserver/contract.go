package mcpserver

// ArchiveLayout describes the structure of an export archive so that LLM
// consumers can locate notes and images inside it.
const ArchiveLayout = `# mixport Archive Layout

Every export run produces one zip archive with the structure below.

## Structure

` + "```" + `
notes/
  <folder>/
    <YYYYMMDD>_<title>.md
    <YYYYMMDD>[_N]_<preview>.md
    images/
      <imageId>.png
` + "```" + `

## Rules

1. **Folders.** Each remote folder becomes one directory under ` + "`" + `notes/` + "`" + `. Notes without a
   folder, or whose folder is unknown, land in the default folder bucket.
2. **Titled notes** are named ` + "`" + `<YYYYMMDD>_<title>.md` + "`" + ` using the creation date.
3. **Untitled notes** are named after the first 10 characters of their first line:
   ` + "`" + `<YYYYMMDD>_<preview>.md` + "`" + `, then ` + "`" + `<YYYYMMDD>_2_<preview>.md` + "`" + `, ` + "`" + `<YYYYMMDD>_3_<preview>.md` + "`" + `
   for further untitled notes created the same day.
4. **Reserved characters** ` + "`" + `<>:"/\|?*` + "`" + ` and control characters are removed from names.
5. **Images** are always PNG and live in the folder's ` + "`" + `images/` + "`" + ` directory. They are
   referenced from the note body as ` + "`" + `![<id>.png](images/<id>.png)` + "`" + `.
6. **Missing images** are kept as ` + "`" + `![image not found: <id>]()` + "`" + ` so nothing is silently lost.
7. **Footer.** Every note ends with a horizontal rule followed by its creation and
   modification timestamps.

## Example

` + "```" + `markdown
# Weekly plan

Call the plumber.
![a1b2c3.png](images/a1b2c3.png)

---
Created: 2024-03-05 08:30:00
Modified: 2024-03-06 19:12:44
` + "```" + `
`

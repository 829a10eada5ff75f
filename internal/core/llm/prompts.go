package llm

// SystemPrompt frames every document request.
const SystemPrompt = `You convert documents into structured layout elements.
Answer with a JSON array only. Each item is an object with:
  "page":   1-based page number, or null when the format has no pages
  "type":   one of Title, NarrativeText, ListItem, Table, Text, Header, Footer
  "text":   the block text, verbatim
  "coords": [x0, y0, x1, y1] in points from the top-left corner, or null
List items in reading order: page by page, top to bottom, left to right.`

// ElementsPrompt is the user turn sent alongside the document.
const ElementsPrompt = "Extract every text block of the attached document."

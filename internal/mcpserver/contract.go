package mcpserver

// AnnotationContract describes how documents, blocks and annotation
// threads behave, for LLM consumers reading or writing them.
const AnnotationContract = `# Marginalia Annotation Contract

A document is a list of blocks. Only headings and paragraphs are blocks
that carry annotations; each has a stable ` + "`" + `blockId` + "`" + `.

## Blocks

- A block keeps its id for as long as it exists, across edits.
- Splitting a block keeps the id on the first half; the second half gets a new id.
- Empty blocks are never annotated.

## Annotators and threads

- Each configured annotator owns one thread per block: the key is (blockId, annotator).
- A thread is an append-only list of messages with role ` + "`" + `user` + "`" + `,
  ` + "`" + `annotator` + "`" + ` or ` + "`" + `system` + "`" + `.
- A thread opened by a user turn starts with the annotator's prompt as a system message.

## Timing

- Edits are collected for a quiet period (5s by default) before changed blocks
  are sent to every annotator at once.
- Replies arrive asynchronously. A reply for a block that was deleted in the
  meantime is dropped.
- While a block waits for its annotators its thread is reported as pending and
  shows no messages.
- A user turn (submit_message) asks the annotator to reply right away.

## Visibility

- Threads start hidden. A new reply on a hidden thread raises a notification
  marker; showing the thread clears it.

## Persistence

- save_document stores the tree with every thread inside the block
  attributes (` + "`" + `aiChatMessages` + "`" + `).
- search_blocks sees text as of the last save.
`

// Package memory implements MARK's local long-term memory: durable
// facts about the user, retrieved semantically while chatting.
//
// Architecture:
//   - Store: durable fact storage (SQLite under $MARK_HOME)
//   - Index: embedding search (linear scan by default, chromem-go optional)
//   - Embedder: text-to-vector conversion (ONNX local, Gemini, Ollama, mock)
//   - Normalizer: deterministic first-person to third-person rewrite
//   - Service: the facade the chat loop talks to
//
// Facts are stored normalized ("The user likes Python") with the raw
// utterance kept alongside. Corrections supersede rather than overwrite:
// the old fact stays readable by id but leaves listing and retrieval.
// The index is rebuilt from persisted embeddings at startup, so a fresh
// process retrieves exactly what the previous one did.
package memory

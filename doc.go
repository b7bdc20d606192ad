/*
Package msh implements an AS4 Message Service Handler for the OASIS AS4
Profile of ebMS 3.0, supporting one-way push and one-way pull exchanges
between business partners.

# Overview

openas4/msh is a complete message service handler, not just a wire codec.
It accepts business documents from a producer application, secures and
sends them under a Processing Mode agreement, receives and verifies
messages from partners, and tracks every exchange in a datastore so that
unacknowledged messages are retried and failures are reported back to
the producer.

# Specifications Implemented

  - OASIS AS4 Profile of ebMS 3.0 Version 1.0: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/profiles/AS4-profile/v1.0/
  - OASIS ebXML Messaging Services v3.0: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/core/os/
  - WS-Security 1.1.1: https://docs.oasis-open.org/wss/v1.1/
  - XML Signature Syntax and Processing: https://www.w3.org/TR/xmldsig-core1/
  - XML Encryption Syntax and Processing: https://www.w3.org/TR/xmlenc-core1/
  - OASIS BDX Location (BDXL) for dynamic endpoint discovery

# Package Structure

	github.com/openas4/msh/pkg/msh         - Message Service Handler orchestrator
	github.com/openas4/msh/pkg/message     - ebMS3 message structures and wire format
	github.com/openas4/msh/pkg/pmode       - Processing Mode configuration
	github.com/openas4/msh/pkg/pipeline    - Message processing pipelines
	github.com/openas4/msh/pkg/steps       - Pipeline steps (sign, encrypt, compress, ...)
	github.com/openas4/msh/pkg/security    - WS-Security signing and encryption
	github.com/openas4/msh/pkg/transport   - HTTPS transport, deliver/notify senders
	github.com/openas4/msh/pkg/reliability - Reception awareness retries
	github.com/openas4/msh/pkg/scheduler   - Pull request scheduling
	github.com/openas4/msh/pkg/compression - GZIP payload compression
	github.com/openas4/msh/pkg/mime        - MIME multipart handling
	github.com/openas4/msh/pkg/discovery   - BDXL dynamic endpoint discovery

# Quick Start

To submit a message for push delivery:

	import (
	    "github.com/openas4/msh/internal/storage/memory"
	    "github.com/openas4/msh/pkg/message"
	    "github.com/openas4/msh/pkg/msh"
	    "github.com/openas4/msh/pkg/pmode"
	)

	store := memory.NewStore()
	registry := pmode.NewRegistry()
	registry.AddSending(&pmode.SendingProcessingMode{
	    ID:                "order-push",
	    MepBinding:        pmode.MepBindingPush,
	    PushConfiguration: &pmode.PushConfiguration{URL: "https://partner.example.com/as4"},
	})

	handler := msh.New(store, store, certs, registry, msh.Options{})
	messageID, err := handler.Submit(ctx, &message.SubmitMessage{
	    PModeID: "order-push",
	    Payloads: []message.SubmitPayload{
	        {Id: "order-1@example.com", ContentType: "application/xml", Data: orderXML},
	    },
	})

The handler persists the message, secures it per the PMode, pushes it to
the partner and processes the synchronous receipt. If the partner is
unreachable and reception awareness is enabled, the retry poller resends
the stored wire form until a receipt arrives or the retry budget runs
out.

# Reliability

Every accepted submission is written to the datastore before any network
activity. Reception awareness tracks unacknowledged pushes and resends
them on a configured interval; exhausted messages are dead lettered and
the producer is notified through a configurable notification method.
MongoDB (with GridFS for message bodies) and an in-memory store are
provided.

# Interoperability

The wire format follows the AS4 profile as implemented by phase4,
Domibus and Holodeck B2B: SOAP 1.2 envelopes, multipart/related
packaging, GZIP compressed attachments, XML-DSig signatures with
exclusive canonicalization and RSA-OAEP/AES-GCM encryption.
*/
package msh
